package api

import (
	"net/http"

	"github.com/YuminosukeSato/pipelab/internal/dataset"
	"github.com/YuminosukeSato/pipelab/internal/pipeline"
	"github.com/YuminosukeSato/pipelab/pkg/errors"
)

type uploadResponse struct {
	Success bool `json:"success"`
	*dataset.Summary
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, err)
			return
		}
		writeError(w, errors.WrapInputError("upload", errors.ErrEmptyFile, err, "No file provided"))
		return
	}
	defer file.Close()

	summary, err := s.pipeline.Upload(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, Summary: summary})
}

type preprocessRequest struct {
	Type         string  `json:"type"`
	TargetColumn *string `json:"target_column"`
}

type preprocessResponse struct {
	Success bool `json:"success"`
	*pipeline.PreprocessResult
}

func (s *Server) handlePreprocess(w http.ResponseWriter, r *http.Request) {
	var req preprocessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.TargetColumn == nil {
		writeError(w, errors.NewInputError("preprocess", errors.ErrInvalidRequest, "target_column is required"))
		return
	}
	res, err := s.pipeline.Preprocess(r.Context(), pipeline.PreprocessRequest{
		Type:         req.Type,
		TargetColumn: *req.TargetColumn,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preprocessResponse{Success: true, PreprocessResult: res})
}

type splitRequest struct {
	TestSize *float64 `json:"test_size"`
}

type splitResponse struct {
	Success bool `json:"success"`
	*pipeline.SplitResult
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	var req splitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.pipeline.Split(r.Context(), pipeline.SplitRequest{TestSize: req.TestSize})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, splitResponse{Success: true, SplitResult: res})
}

type trainRequest struct {
	ModelType string `json:"model_type"`
}

type trainResponse struct {
	Success bool `json:"success"`
	*pipeline.TrainResult
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.pipeline.Train(r.Context(), pipeline.TrainRequest{ModelType: req.ModelType})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trainResponse{Success: true, TrainResult: res})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Status())
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.pipeline.Reset()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
