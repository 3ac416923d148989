package handlers

import (
	"errors"
	"net/http"

	"pixelsmith/internal/domain"
)

type balanceResponse struct {
	UserID        string `json:"user_id"`
	CreditBalance int    `json:"credit_balance"`
}

func (a *App) BalanceGet(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	balance, err := a.Balances.Balance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "no balance for user")
			return
		}
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("handlers: failed to load balance")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load balance")
		return
	}
	a.json(w, http.StatusOK, balanceResponse{UserID: userID, CreditBalance: balance})
}
