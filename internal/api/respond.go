package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/YuminosukeSato/pipelab/pkg/errors"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v before sending any header, so an unencodable value
// becomes a 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(errorResponse{Error: "Error encoding response: " + err.Error()})
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// writeError maps input errors to 400, oversized bodies to 413 and
// everything else to 500.
func writeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Uploaded file is too large"})
	case errors.KindOf(err) == errors.KindInput:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errors.UserMessage(err)})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errors.UserMessage(err)})
	}
}

// decodeJSON reads a single JSON object into v, rejecting unknown fields.
// An empty body leaves v unchanged.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.WrapInputError("decoding request", errors.ErrInvalidRequest, err,
			"Invalid JSON body: "+err.Error())
	}
	if dec.More() {
		return errors.NewInputError("decoding request", errors.ErrInvalidRequest,
			"Invalid JSON body: unexpected data after object")
	}
	return nil
}
