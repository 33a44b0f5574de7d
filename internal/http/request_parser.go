// This file implements parsing and validation of request parameters.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ledgercache/internal/balance"
	"ledgercache/internal/core"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// ParseIDList parses a comma-separated list of positive ids, e.g. "1,2, 3".
// Blank items are ignored; an empty string yields an empty list.
func ParseIDList[T ~int64](raw string) ([]T, error) {
	var ids []T
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("%w: %q", core.ErrInvalidID, part)
		}
		ids = append(ids, T(v))
	}
	return ids, nil
}

// ParseID parses one positive id.
func ParseID[T ~int64](raw string) (T, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %q", core.ErrInvalidID, raw)
	}
	return T(v), nil
}

// ParseBool reads an optional boolean query parameter; absent means false.
func ParseBool(query url.Values, key string) (bool, error) {
	v := strings.TrimSpace(query.Get(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s flag %q", key, v)
	}
	return b, nil
}

// ParseBalanceQuery builds a balance query from
// ?accounts=1,2&periods=3&draft=true&consolidate=true.
func ParseBalanceQuery(query url.Values) (balance.BalanceQuery, error) {
	var q balance.BalanceQuery
	var err error

	if q.Accounts, err = ParseIDList[core.AccountID](query.Get("accounts")); err != nil {
		return q, err
	}
	if q.Periods, err = ParseIDList[core.PeriodID](query.Get("periods")); err != nil {
		return q, err
	}
	if len(q.Periods) == 0 {
		return q, core.ErrEmptyScope
	}
	if q.IncludeDraft, err = ParseBool(query, "draft"); err != nil {
		return q, err
	}
	if q.Consolidate, err = ParseBool(query, "consolidate"); err != nil {
		return q, err
	}
	return q, nil
}

type keyPayload struct {
	AccountID core.AccountID `json:"account_id"`
	PeriodID  core.PeriodID  `json:"period_id"`
	JournalID core.JournalID `json:"journal_id"`
}

// DeleteRequest is the body of POST /balances/delete. Recompute defaults
// to true.
type DeleteRequest struct {
	Keys      []keyPayload `json:"keys"`
	Recompute *bool        `json:"recompute,omitempty"`
}

// Mode translates the recompute flag into a delete mode.
func (d DeleteRequest) Mode() balance.DeleteMode {
	if d.Recompute != nil && !*d.Recompute {
		return balance.SkipRecompute
	}
	return balance.RecomputeAfterDelete
}

// CacheKeys validates and converts the requested keys.
func (d DeleteRequest) CacheKeys() ([]core.Key, error) {
	if len(d.Keys) == 0 {
		return nil, errors.New("no keys given")
	}
	keys := make([]core.Key, len(d.Keys))
	for i, k := range d.Keys {
		keys[i] = core.Key{AccountID: k.AccountID, PeriodID: k.PeriodID, JournalID: k.JournalID}
		if err := keys[i].Validate(); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// DecodeJSONBody decodes a bounded JSON body into dst, rejecting unknown
// fields and trailing data.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
