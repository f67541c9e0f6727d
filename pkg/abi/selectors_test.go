package abi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelector(t *testing.T) {
	assert.Equal(t, "0xa9059cbb", Selector("transfer(address,uint256)"))
	assert.Equal(t, "0x095ea7b3", Selector("approve(address,uint256)"))
	assert.Equal(t, "0x23b872dd", Selector("transferFrom(address,address,uint256)"))
}

func TestTopic(t *testing.T) {
	assert.Equal(t,
		"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
		Topic("Transfer(address,address,uint256)"))
}

func TestFunctionName(t *testing.T) {
	input := "0xa9059cbb000000000000000000000000000000000000000000000000000000000000dead" +
		"0000000000000000000000000000000000000000000000000de0b6b3a7640000"

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"known", input, "transfer"},
		{"upper case", "0xA9059CBB", "transfer"},
		{"unknown selector", "0xdeadbeef00", "0xdeadbeef"},
		{"plain transfer", "0x", ""},
		{"empty", "", ""},
		{"too short", "0xa905", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FunctionName(tt.input))
		})
	}
}

func TestFunctionName_Idempotent(t *testing.T) {
	inputs := []string{
		"0xa9059cbb0000000000000000000000000000000000000000000000000000000000000001",
		"0x12345678",
		"0x",
	}
	for _, in := range inputs {
		first := FunctionName(in)
		second := FunctionName(in)
		assert.Equal(t, first, second, in)
	}
}

func TestEventName(t *testing.T) {
	assert.Equal(t, "Transfer", EventName("0xDDF252AD1BE2C89B69C2B068FC378DAA952BA7F163C4A11628F55A4DF523B3EF"))
	assert.Equal(t, "", EventName("0x01"))
}
