// Package classify turns gateway result entries into per-recipient results.
package classify

import (
	"fmt"

	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

// Classify decides the outcome for one recipient from the three
// possibly-absent fields of its entry.
//
//	error | message_id | registration_id | outcome
//	yes   | no         | no              | Error(code)
//	no    | yes        | no              | Delivered
//	no    | yes        | yes             | IdentifierChanged(registration_id)
//	anything else                        | Malformed
func Classify(entry dispatch.Entry, recipient string) dispatch.Result {
	hasErr := entry.Error != ""
	hasMsg := entry.MessageID != ""
	hasReg := entry.RegistrationID != ""

	res := dispatch.Result{Recipient: recipient, MessageID: entry.MessageID}
	switch {
	case hasErr && !hasMsg && !hasReg:
		res.Kind = dispatch.KindError
		res.ErrorCode = entry.Error
	case !hasErr && hasMsg && !hasReg:
		res.Kind = dispatch.KindDelivered
	case !hasErr && hasMsg && hasReg:
		res.Kind = dispatch.KindIdentifierChanged
		res.CanonicalID = entry.RegistrationID
	default:
		res.Kind = dispatch.KindMalformed
		res.Err = fmt.Errorf("%w: entry for %q has error=%t message_id=%t registration_id=%t",
			dispatch.ErrClassification, recipient, hasErr, hasMsg, hasReg)
	}
	return res
}

// ClassifyBatch classifies every entry positionally. A result list whose
// length differs from the recipient list is rejected as a whole.
func ClassifyBatch(resp *dispatch.Response, recipients []string) ([]dispatch.Result, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", dispatch.ErrClassification)
	}
	if len(resp.Results) != len(recipients) {
		return nil, fmt.Errorf("%w: %d results for %d recipients",
			dispatch.ErrClassification, len(resp.Results), len(recipients))
	}

	results := make([]dispatch.Result, len(recipients))
	for i, recipient := range recipients {
		results[i] = Classify(resp.Results[i], recipient)
	}
	return results, nil
}

// CanSkip reports whether per-entry classification can be skipped: the batch
// had no failures and no canonical id changes, and nobody asked for results.
func CanSkip(resp *dispatch.Response, wantResults bool) bool {
	if wantResults || resp == nil {
		return false
	}
	return resp.Failure == 0 && resp.CanonicalIDs == 0
}

// SinkCode is the code an ErrorSink receives for a result, or "" for a plain delivery.
func SinkCode(r dispatch.Result) string {
	switch r.Kind {
	case dispatch.KindError:
		return r.ErrorCode
	case dispatch.KindIdentifierChanged:
		return dispatch.CodeIdentifierChanged
	case dispatch.KindMalformed:
		return dispatch.CodeMalformedEntry
	default:
		return ""
	}
}
