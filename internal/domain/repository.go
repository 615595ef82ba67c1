package domain

import (
	"context"
	"fmt"
	"time"

	"xuesigner/internal/store"
)

// CodeRepository is the code registry. Mutations come only from the admin
// channel; the claim service only reads.
type CodeRepository interface {
	AddCode(ctx context.Context, code string, now time.Time) error
	AddCodes(ctx context.Context, codes []string, now time.Time) error
	ExtendAll(ctx context.Context, days int) (int, error)
	Lookup(ctx context.Context, code string) (CodeEntry, bool, error)
	List(ctx context.Context) (Codes, error)
}

type storeRepository struct {
	codes *store.Store[Codes]
}

// NewCodeStore opens the registry document on backend.
func NewCodeStore(backend store.Backend) *store.Store[Codes] {
	return store.New(CodesStoreName, backend, func() Codes { return Codes{} })
}

func NewStoreRepository(codes *store.Store[Codes]) CodeRepository {
	return &storeRepository{codes: codes}
}

// AddCode registers code with an expiry CodeValidity after now, replacing any
// existing entry for the same code.
func (r *storeRepository) AddCode(ctx context.Context, code string, now time.Time) error {
	return r.AddCodes(ctx, []string{code}, now)
}

// AddCodes registers every code in one document write.
func (r *storeRepository) AddCodes(ctx context.Context, codes []string, now time.Time) error {
	for _, c := range codes {
		if c == "" {
			return fmt.Errorf("%w: empty code", ErrInvalidArgument)
		}
	}
	expiry := now.Add(CodeValidity).UTC()
	return r.codes.Update(ctx, func(doc *Codes) {
		if *doc == nil {
			*doc = Codes{}
		}
		for _, c := range codes {
			(*doc)[c] = CodeEntry{Expiry: expiry}
		}
	})
}

// ExtendAll shifts every expiry by days calendar days (negative shortens) and
// reports how many entries were touched. A shift that would move any expiry
// outside years 0-9999 is refused and nothing changes.
func (r *storeRepository) ExtendAll(ctx context.Context, days int) (int, error) {
	if days > MaxExtendDays || days < -MaxExtendDays {
		return 0, fmt.Errorf("%w: days must be between %d and %d", ErrInvalidArgument, -MaxExtendDays, MaxExtendDays)
	}
	var n int
	err := r.codes.TryUpdate(ctx, func(doc *Codes) error {
		shifted := make(Codes, len(*doc))
		for c, e := range *doc {
			expiry := e.Expiry.UTC().AddDate(0, 0, days)
			if y := expiry.Year(); y < 0 || y > 9999 {
				return fmt.Errorf("%w: extending by %d days moves an expiry to year %d", ErrInvalidArgument, days, y)
			}
			shifted[c] = CodeEntry{Expiry: expiry}
		}
		*doc = shifted
		n = len(shifted)
		return nil
	})
	return n, err
}

func (r *storeRepository) Lookup(ctx context.Context, code string) (CodeEntry, bool, error) {
	var (
		entry CodeEntry
		ok    bool
	)
	err := r.codes.View(ctx, func(doc Codes) {
		entry, ok = doc[code]
	})
	return entry, ok, err
}

func (r *storeRepository) List(ctx context.Context) (Codes, error) {
	return r.codes.Get(ctx)
}
