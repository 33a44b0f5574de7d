package http

import (
	"net/http"

	"ledgercache/internal/balance"
	"ledgercache/internal/core"
	applog "ledgercache/internal/log"
)

type balanceLine struct {
	AccountID       core.AccountID `json:"account_id"`
	Debit           core.Money     `json:"debit"`
	Credit          core.Money     `json:"credit"`
	Balance         core.Money     `json:"balance"`
	CurrencyBalance core.Money     `json:"currency_balance"`
}

type balancesResponse struct {
	Balances []balanceLine `json:"balances"`
}

type recomputeResponse struct {
	Written  int             `json:"written"`
	Absorbed int             `json:"absorbed"`
	Purged   int64           `json:"purged"`
	Periods  []core.PeriodID `json:"periods"`
}

func newRecomputeResponse(res balance.RecomputeResult) recomputeResponse {
	periods := res.Periods
	if periods == nil {
		periods = []core.PeriodID{}
	}
	return recomputeResponse{Written: res.Written, Absorbed: res.Absorbed, Purged: res.Purged, Periods: periods}
}

// handleGetBalances serves GET /balances?accounts=&periods=&draft=&consolidate=.
func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	q, err := ParseBalanceQuery(r.URL.Query())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	lines, err := s.svc.GetBalances(r.Context(), q)
	if err != nil {
		s.fail(w, r, err, applog.OpQuery)
		return
	}

	out := balancesResponse{Balances: make([]balanceLine, len(lines))}
	for i, l := range lines {
		out.Balances[i] = balanceLine{
			AccountID:       l.AccountID,
			Debit:           l.Debit,
			Credit:          l.Credit,
			Balance:         l.Balance,
			CurrencyBalance: l.CurrencyBalance,
		}
	}
	NewJSONResponse().Payload(out).Write(w)
}

// handleClosePeriod serves POST /periods/{id}/close[?journal=J]. The ledger
// has already closed the period (or journal-period); this materializes it.
func (s *Server) handleClosePeriod(w http.ResponseWriter, r *http.Request) {
	period, err := ParseID[core.PeriodID](r.PathValue("id"))
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	var res balance.RecomputeResult
	if raw := r.URL.Query().Get("journal"); raw != "" {
		journal, err := ParseID[core.JournalID](raw)
		if err != nil {
			BadRequestError(err.Error()).Write(w)
			return
		}
		res, err = s.svc.OnJournalPeriodClose(r.Context(), period, journal)
		if err != nil {
			s.fail(w, r, err, applog.OpClose)
			return
		}
	} else {
		res, err = s.svc.OnPeriodClose(r.Context(), period)
		if err != nil {
			s.fail(w, r, err, applog.OpClose)
			return
		}
	}
	NewJSONResponse().Payload(newRecomputeResponse(res)).Write(w)
}

// handleReopenPeriod serves POST /periods/{id}/reopen.
func (s *Server) handleReopenPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := ParseID[core.PeriodID](r.PathValue("id"))
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	n, err := s.svc.OnPeriodReopen(r.Context(), period)
	if err != nil {
		s.fail(w, r, err, applog.OpReopen)
		return
	}
	NewJSONResponse().Payload(map[string]int64{"purged": n}).Write(w)
}

// handleDeleteBalances serves POST /balances/delete with a DeleteRequest body.
func (s *Server) handleDeleteBalances(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	keys, err := req.CacheKeys()
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	res, err := s.svc.OnManualDeletion(r.Context(), keys, req.Mode())
	if err != nil {
		s.fail(w, r, err, applog.OpDelete)
		return
	}
	NewJSONResponse().Payload(newRecomputeResponse(res)).Write(w)
}

// handleSweep serves POST /sweep.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Sweep(r.Context())
	if err != nil {
		s.fail(w, r, err, applog.OpSweep)
		return
	}
	NewJSONResponse().Payload(newRecomputeResponse(res)).Write(w)
}

// fail logs err and writes the matching error response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, op string) {
	resp := DomainError(err)
	if resp.statusCode >= http.StatusInternalServerError {
		applog.LogError(r.Context(), "Balance request failed", err, op, nil)
	} else {
		applog.FromContext(r.Context()).InfoContext(r.Context(), "Balance request rejected",
			applog.FieldOperation, op, applog.FieldError, err)
	}
	resp.Write(w)
}
