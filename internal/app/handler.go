package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"xuesigner/internal/captcha"
	"xuesigner/internal/domain"
	"xuesigner/internal/logging"
	"xuesigner/internal/metrics"
	"xuesigner/internal/signer"
	"xuesigner/internal/utility"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/hlog"
)

// Redeemer exchanges a registered code for a signed claim.
type Redeemer interface {
	Redeem(ctx context.Context, code, receiver string, now time.Time) (*domain.SignedClaim, error)
}

type Handler struct {
	claims   Redeemer
	captcha  captcha.Verifier
	validate *validator.Validate
	now      func() time.Time
}

func NewHandler(claims Redeemer, verifier captcha.Verifier) *Handler {
	return &Handler{
		claims:   claims,
		captcha:  verifier,
		validate: newValidator(),
		now:      time.Now,
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) HandleGetSig(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	var req domain.GetSigReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			utility.PlainError(w, http.StatusBadRequest, typeErr.Field+" is not a string")
			return
		}
		utility.PlainError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if msg := h.checkRequest(req); msg != "" {
		utility.PlainError(w, http.StatusBadRequest, msg)
		return
	}

	ok, err := h.captcha.Verify(r.Context(), req.Recaptcha, remoteIP(r))
	switch {
	case err != nil:
		metrics.IncCaptcha("error")
		logger.Warn().Err(err).Msg("recaptcha verification failed")
	case ok:
		metrics.IncCaptcha("passed")
	default:
		metrics.IncCaptcha("failed")
	}
	if err != nil || !ok {
		utility.PlainError(w, http.StatusBadRequest, "recaptcha does not pass verification")
		return
	}

	claim, err := h.claims.Redeem(r.Context(), req.Code, req.Receiver, h.now())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownCode):
			utility.PlainError(w, http.StatusNotFound, "Invalid code.")
		case errors.Is(err, domain.ErrCodeExpired):
			utility.PlainError(w, http.StatusGone, "Code has expired.")
		case errors.Is(err, domain.ErrInvalidReceiver):
			utility.PlainError(w, http.StatusBadRequest, domain.ErrInvalidReceiver.Error())
		case errors.Is(err, domain.ErrInvalidArgument):
			utility.PlainError(w, http.StatusBadRequest, err.Error())
		default:
			logger.Error().Err(err).Str("code", logging.Redact(req.Code)).Msg("failed to sign claim")
			utility.PlainError(w, http.StatusInternalServerError, "Internal error.")
		}
		return
	}

	logger.Info().
		Str("code", logging.Redact(req.Code)).
		Str("receiver", claim.Message.Receiver).
		Uint32("claim_before", claim.Message.ClaimBefore).
		Msg("claim signed")
	utility.WriteJSON(w, http.StatusOK, claim)
}

// checkRequest returns the message for the first invalid field, in the order
// the fields are declared, or "" when the request is well formed.
func (h *Handler) checkRequest(req domain.GetSigReq) string {
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "required" {
				return fe.Field() + " is required"
			}
			return domain.ErrInvalidReceiver.Error()
		}
		return "invalid request"
	}
	// eth_addr only checks the shape; mixed case must also match the checksum.
	if !signer.IsAddress(req.Receiver) {
		return domain.ErrInvalidReceiver.Error()
	}
	return ""
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
