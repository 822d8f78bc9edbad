package service

import (
	"context"
	"fmt"

	"qpaygate/internal/config"
	"qpaygate/internal/database"
	"qpaygate/internal/domain"
	"qpaygate/internal/events"
	"qpaygate/internal/qpay"

	"github.com/rs/zerolog"
)

// Service orchestrates order payment flows: invoice creation, payment
// confirmation, tax receipts and refunds. All processor calls go through
// the token provider so callers never handle credentials.
type Service struct {
	db         *database.DB
	client     domain.PaymentClient
	tokens     domain.TokenProvider
	creds      qpay.Credentials
	cfg        config.QPayConfig
	bus        *events.EventBus
	exportPath string
	logger     *zerolog.Logger
}

func New(db *database.DB, client domain.PaymentClient, tokens domain.TokenProvider, creds qpay.Credentials, cfg config.QPayConfig, bus *events.EventBus, exportPath string, logger *zerolog.Logger) *Service {
	return &Service{
		db:         db,
		client:     client,
		tokens:     tokens,
		creds:      creds,
		cfg:        cfg,
		bus:        bus,
		exportPath: exportPath,
		logger:     logger,
	}
}

func (s *Service) token(ctx context.Context) (string, error) {
	token, err := s.tokens.GetToken(ctx, s.creds)
	if err != nil {
		return "", fmt.Errorf("acquire token: %w", err)
	}
	return token, nil
}
