package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/akua-anchor/api/responses"
	"github.com/angelmondragon/akua-anchor/pkg/bsv"
	"github.com/angelmondragon/akua-anchor/pkg/config"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
)

// BalanceReader reports the spendable funding balance in satoshis.
type BalanceReader interface {
	Balance(ctx context.Context) (int64, error)
	Network() string
}

type InfoResponse struct {
	Version         string `json:"version"`
	Network         string `json:"network"`
	StubMode        bool   `json:"stubMode"`
	AuthEnabled     bool   `json:"authEnabled"`
	RateLimitPerMin int    `json:"rateLimitPerMin"`
	MaxFeeSats      int64  `json:"maxFeeSats"`
	MinBalanceSats  int64  `json:"minBalanceSats"`
	FeePerKb        int64  `json:"feePerKb"`
	FundingAddress  string `json:"fundingAddress,omitempty"`
	BalanceSats     *int64 `json:"balanceSats"`
	BalanceBSV      string `json:"balanceBSV,omitempty"`
}

// Info reports the publisher configuration and current funding balance. A
// balance lookup failure is logged and reported as a null balance.
func Info(cfg config.PublisherConfig, fundingAddress, version string, wallet BalanceReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := InfoResponse{
			Version:         version,
			Network:         wallet.Network(),
			StubMode:        cfg.Stub,
			AuthEnabled:     cfg.AuthToken != "",
			RateLimitPerMin: cfg.RateLimitPerMin,
			MaxFeeSats:      cfg.MaxFeeSats,
			MinBalanceSats:  cfg.MinBalanceSats,
			FeePerKb:        cfg.FeePerKb,
			FundingAddress:  fundingAddress,
		}

		balance, err := wallet.Balance(r.Context())
		if err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "info.balance_unavailable")
			}
		} else {
			resp.BalanceSats = &balance
			resp.BalanceBSV = bsv.FormatBSV(balance)
		}

		responses.WriteSuccess(w, resp)
	}
}
