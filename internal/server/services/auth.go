package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/server/auth"
	"github.com/dmitrijs2005/ledgersync/internal/server/config"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/repomanager"
)

// AuthService exchanges device credentials for short-lived tokens.
type AuthService struct {
	db                    *sql.DB
	repomanager           repomanager.RepositoryManager
	apiKey                string
	jwtSecret             []byte
	tokenValidityDuration time.Duration
	logger                logging.Logger
}

func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *AuthService {
	return &AuthService{
		db:                    db,
		repomanager:           m,
		apiKey:                cfg.APIKey,
		jwtSecret:             []byte(cfg.SecretKey),
		tokenValidityDuration: cfg.TokenValidityDuration,
		logger:                logger.With("module", "auth_service"),
	}
}

// Authenticate checks apiKey, records the device and issues a token for it.
// With no API key configured every device is accepted.
func (s *AuthService) Authenticate(ctx context.Context, deviceID, apiKey string) (string, error) {
	if deviceID == "" {
		return "", common.ErrorUnauthorized
	}
	if s.apiKey != "" && subtle.ConstantTimeCompare([]byte(s.apiKey), []byte(apiKey)) != 1 {
		s.logger.Warn(ctx, "rejected device", "device_id", deviceID)
		return "", common.ErrorUnauthorized
	}

	if _, err := s.repomanager.Devices(s.db).Touch(ctx, deviceID); err != nil {
		return "", fmt.Errorf("register device: %w", err)
	}

	token, err := auth.GenerateToken(deviceID, s.jwtSecret, s.tokenValidityDuration)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	s.logger.Info(ctx, "device authenticated", "device_id", deviceID)
	return token, nil
}

// VerifyToken returns the device a token was issued to.
func (s *AuthService) VerifyToken(token string) (string, error) {
	return auth.GetDeviceIDFromToken(token, s.jwtSecret)
}
