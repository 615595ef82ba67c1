package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"xuesigner/internal/domain"
	"xuesigner/internal/metrics"
	"xuesigner/internal/utility"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

// AdminHandler serves code registry maintenance. It is only mounted on the
// local admin socket.
type AdminHandler struct {
	codes domain.CodeRepository
	now   func() time.Time
}

func NewAdminHandler(codes domain.CodeRepository) *AdminHandler {
	return &AdminHandler{codes: codes, now: time.Now}
}

// CodeView is one registry entry as listed by the admin API.
type CodeView struct {
	Code   string    `json:"code"`
	Expiry time.Time `json:"expiry"`
}

func (h *AdminHandler) HandleAddCode(w http.ResponseWriter, r *http.Request) {
	var req domain.AddCodeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, "add-code", http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if err := h.codes.AddCode(r.Context(), req.Code, h.now()); err != nil {
		h.fail(w, r, "add-code", statusFor(err), err.Error(), err)
		return
	}
	h.done(r, "add-code", 1)
	utility.WriteJSON(w, http.StatusCreated, domain.AdminRes{Affected: 1})
}

func (h *AdminHandler) HandleAddCodes(w http.ResponseWriter, r *http.Request) {
	var req domain.AddCodesReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, "add-codes", http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if err := h.codes.AddCodes(r.Context(), req.Codes, h.now()); err != nil {
		h.fail(w, r, "add-codes", statusFor(err), err.Error(), err)
		return
	}
	h.done(r, "add-codes", len(req.Codes))
	utility.WriteJSON(w, http.StatusCreated, domain.AdminRes{Affected: len(req.Codes)})
}

func (h *AdminHandler) HandleExtendCodes(w http.ResponseWriter, r *http.Request) {
	var req domain.ExtendCodesReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, "extend-codes", http.StatusBadRequest, "days must be an integer", err)
		return
	}
	n, err := h.codes.ExtendAll(r.Context(), req.Days)
	if err != nil {
		h.fail(w, r, "extend-codes", statusFor(err), err.Error(), err)
		return
	}
	h.done(r, "extend-codes", n)
	utility.WriteJSON(w, http.StatusOK, domain.AdminRes{Affected: n})
}

func (h *AdminHandler) HandleListCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.codes.List(r.Context())
	if err != nil {
		h.fail(w, r, "list-codes", http.StatusInternalServerError, "failed to list codes", err)
		return
	}
	out := make([]CodeView, 0, len(codes))
	for code, entry := range codes {
		out = append(out, CodeView{Code: code, Expiry: entry.Expiry})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	metrics.IncAdminCommand("list-codes", "ok")
	utility.WriteJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) HandleGetCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		utility.HttpError(w, http.StatusBadRequest, "missing code")
		return
	}
	entry, ok, err := h.codes.Lookup(r.Context(), code)
	if err != nil {
		h.fail(w, r, "get-code", http.StatusInternalServerError, "failed to look up code", err)
		return
	}
	if !ok {
		utility.HttpError(w, http.StatusNotFound, "not found")
		return
	}
	utility.WriteJSON(w, http.StatusOK, CodeView{Code: code, Expiry: entry.Expiry})
}

func (h *AdminHandler) done(r *http.Request, command string, affected int) {
	metrics.IncAdminCommand(command, "ok")
	hlog.FromRequest(r).Info().Str("command", command).Int("affected", affected).Msg("admin command applied")
}

func (h *AdminHandler) fail(w http.ResponseWriter, r *http.Request, command string, status int, msg string, err error) {
	metrics.IncAdminCommand(command, "failed")
	hlog.FromRequest(r).Error().Err(err).Str("command", command).Msg("admin command failed")
	utility.HttpError(w, status, msg)
}

func statusFor(err error) int {
	if errors.Is(err, domain.ErrInvalidArgument) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
