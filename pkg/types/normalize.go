package types

import "fmt"

// NormalizeFetchOutput converts either output shape a client may hand back,
// the structured *FetchResult or the legacy bare transaction slice, into a
// single FetchResult. Legacy slices carry no events of their own, so the
// events embedded on each transaction are lifted into the result.
func NormalizeFetchOutput(out interface{}) (*FetchResult, error) {
	switch v := out.(type) {
	case nil:
		return NewFetchResult(MethodEventBased), nil
	case *FetchResult:
		if v == nil {
			return NewFetchResult(MethodEventBased), nil
		}
		normalizeResult(v)
		return v, nil
	case FetchResult:
		normalizeResult(&v)
		return &v, nil
	case []*Transaction:
		return fromLegacy(v), nil
	case []Transaction:
		txs := make([]*Transaction, len(v))
		for i := range v {
			txs[i] = &v[i]
		}
		return fromLegacy(txs), nil
	default:
		return nil, fmt.Errorf("unsupported fetch output type %T", out)
	}
}

func normalizeResult(r *FetchResult) {
	if r.Transactions == nil {
		r.Transactions = []*Transaction{}
	}
	if r.Events == nil {
		r.Events = []Event{}
	}
	if r.Method == "" {
		r.Method = r.Summary.Method
	}
	if r.Method == "" {
		r.Method = MethodEventBased
	}
	r.Summary.Method = r.Method
	r.Recount()
}

func fromLegacy(txs []*Transaction) *FetchResult {
	result := NewFetchResult(MethodInteractionBased)
	for _, tx := range txs {
		if tx == nil || tx.Hash == "" {
			continue
		}
		if tx.Source == "" {
			if len(tx.Events) > 0 {
				tx.Source = SourceEvent
			} else {
				tx.Source = SourceDirect
			}
		}
		if tx.Events == nil {
			tx.Events = []Event{}
		}
		result.Transactions = append(result.Transactions, tx)
		result.Events = append(result.Events, tx.Events...)
	}
	result.Recount()
	return result
}
