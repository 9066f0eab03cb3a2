package http

import (
	"errors"
	"io"
	"net/http"
	"sync/atomic"

	"budget/internal/core"
	"budget/internal/importer"
	"budget/internal/services"
)

// uploadField is the multipart field carrying the spreadsheet.
const uploadField = "file"

// confirmRequest mirrors the stage response so clients can post it back edited.
type confirmRequest struct {
	Data []importer.Row `json:"data"`
}

// handleListTransactions serves GET /api/transactions?type=&category=&start=&end=
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	query := r.URL.Query()
	var f services.ListFilter
	if f.Type, err = ParseTypeParam(query, "type"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.From, err = ParseDateParam(query, "start"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.To, err = ParseDateParam(query, "end"); err != nil {
		writeError(w, r, err)
		return
	}
	f.Category = sanitizeInput(query.Get("category"))

	txs, err := s.transactions.List(r.Context(), owner, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(txs).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var d core.Draft
	if err := DecodeJSON(w, r, &d); err != nil {
		writeError(w, r, err)
		return
	}

	tx, err := s.transactions.Create(r.Context(), owner, d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.transactionsCreated, 1)
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/transactions/"+tx.ID).
		Body(tx).
		Write(w)
}

// handleEditTransaction serves PUT /api/transactions/{id}. Only the fields
// present in the body change.
func (s *Server) handleEditTransaction(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var p core.Patch
	if err := DecodeJSON(w, r, &p); err != nil {
		writeError(w, r, err)
		return
	}

	tx, err := s.transactions.Edit(r.Context(), owner, id, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.transactionsUpdated, 1)
	NewJSONResponse().Body(tx).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.transactions.Delete(r.Context(), owner, id); err != nil {
		writeError(w, r, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.transactionsDeleted, 1)
	NewJSONResponse().Body(map[string]string{"message": "Deleted successfully"}).Write(w)
}

// handleImportStage serves POST /api/transactions/import. The upload is
// streamed part by part into the normalizer; nothing is written to the ledger.
func (s *Server) handleImportStage(w http.ResponseWriter, r *http.Request) {
	if _, err := ownerOf(r); err != nil {
		writeError(w, r, err)
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, core.NewValidation("Expected a multipart/form-data upload", err))
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, r, core.NewValidation("No file uploaded", nil))
			return
		}
		if err != nil {
			writeError(w, r, core.NewValidation("Malformed multipart upload", err))
			return
		}
		if part.FormName() != uploadField {
			part.Close()
			continue
		}

		rows, err := s.importer.Stage(r.Context(), importer.Upload{
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Body:        part,
		})
		part.Close()
		if err != nil {
			writeError(w, r, err)
			return
		}

		atomic.AddInt64(&s.appMetrics.importRowsStaged, int64(len(rows)))
		NewJSONResponse().Data(rows).Write(w)
		return
	}
}

// handleImportConfirm serves POST /api/transactions/import/confirm with the
// reviewed rows as {"data": [...]}.
func (s *Server) handleImportConfirm(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req confirmRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	report, err := s.transactions.ConfirmImport(r.Context(), owner, req.Data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.importRowsConfirmed, int64(len(report.Created)))
	atomic.AddInt64(&s.appMetrics.importRowsFailed, int64(len(report.Failed)))
	NewJSONResponse().Body(report).Write(w)
}
