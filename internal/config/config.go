// Package config reads server settings from the environment, loading a
// .env file first when one is present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"

	"github.com/DoyleJ11/pixelana-backend/internal/address"
	"github.com/DoyleJ11/pixelana-backend/internal/engine"
	"github.com/DoyleJ11/pixelana-backend/internal/funds"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	ListenAddr     string
	LogLevel       string
	LogFormat      string
	DatabaseDriver string
	DatabaseURL    string
	ProgramID      solana.PublicKey
	MintEndpoint   string
	MintTimeout    time.Duration
	Rules          engine.Rules
	DevFaucet      bool
	FaucetLamports uint64
	SweepEvery     time.Duration
	// SignatureWindow bounds clock skew on signed requests.
	SignatureWindow time.Duration
}

// Load reads .env (if any) and then the process environment.
func Load() (Config, bool, error) {
	loaded := godotenv.Load() == nil
	cfg, err := FromEnv(os.Getenv)
	return cfg, loaded, err
}

// FromEnv builds a Config from lookup, applying defaults for unset keys.
func FromEnv(lookup func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := lookup(key); v != "" {
			return v
		}
		return def
	}
	defaults := engine.DefaultRules()

	cfg := Config{
		ListenAddr:     get("LISTEN_ADDR", ":8080"),
		LogLevel:       get("LOG_LEVEL", "info"),
		LogFormat:      get("LOG_FORMAT", "json"),
		DatabaseDriver: get("DATABASE_DRIVER", "memory"),
		DatabaseURL:    lookup("DATABASE_URL"),
		MintEndpoint:   lookup("MINT_ENDPOINT"),
	}

	var err error
	if cfg.ProgramID, err = solana.PublicKeyFromBase58(get("PROGRAM_ID", address.DefaultProgramID.String())); err != nil {
		return cfg, fmt.Errorf("%w: PROGRAM_ID: %v", ErrInvalid, err)
	}
	if cfg.MintTimeout, err = time.ParseDuration(get("MINT_TIMEOUT", "10s")); err != nil {
		return cfg, fmt.Errorf("%w: MINT_TIMEOUT: %v", ErrInvalid, err)
	}
	if cfg.SweepEvery, err = time.ParseDuration(get("LOBBY_SWEEP", "1m")); err != nil {
		return cfg, fmt.Errorf("%w: LOBBY_SWEEP: %v", ErrInvalid, err)
	}
	if cfg.SignatureWindow, err = time.ParseDuration(get("SIGNATURE_WINDOW", "30s")); err != nil || cfg.SignatureWindow <= 0 {
		return cfg, fmt.Errorf("%w: SIGNATURE_WINDOW must be a positive duration", ErrInvalid)
	}
	maxMembers, err := parseUint8(get("GAME_MAX_MEMBERS", strconv.Itoa(int(defaults.MaxMembers))))
	if err != nil {
		return cfg, fmt.Errorf("%w: GAME_MAX_MEMBERS: %v", ErrInvalid, err)
	}
	minMembers, err := parseUint8(get("GAME_MIN_MEMBERS", strconv.Itoa(int(defaults.MinMembers))))
	if err != nil {
		return cfg, fmt.Errorf("%w: GAME_MIN_MEMBERS: %v", ErrInvalid, err)
	}
	hostDraws, err := strconv.ParseBool(get("GAME_HOST_DRAWS", strconv.FormatBool(defaults.HostDraws)))
	if err != nil {
		return cfg, fmt.Errorf("%w: GAME_HOST_DRAWS: %v", ErrInvalid, err)
	}
	cfg.Rules = engine.Rules{MaxMembers: maxMembers, MinMembers: minMembers, HostDraws: hostDraws}
	if minMembers == 0 || maxMembers < minMembers {
		return cfg, fmt.Errorf("%w: need 0 < GAME_MIN_MEMBERS <= GAME_MAX_MEMBERS, got %d and %d", ErrInvalid, minMembers, maxMembers)
	}

	if cfg.DevFaucet, err = strconv.ParseBool(get("DEV_FAUCET", "false")); err != nil {
		return cfg, fmt.Errorf("%w: DEV_FAUCET: %v", ErrInvalid, err)
	}
	if cfg.FaucetLamports, err = strconv.ParseUint(get("FAUCET_LAMPORTS", strconv.FormatUint(2*funds.LamportsPerSOL, 10)), 10, 64); err != nil {
		return cfg, fmt.Errorf("%w: FAUCET_LAMPORTS: %v", ErrInvalid, err)
	}

	switch cfg.DatabaseDriver {
	case "memory":
	case "sqlite", "postgres", "mysql":
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("%w: DATABASE_URL is required for %s", ErrInvalid, cfg.DatabaseDriver)
		}
	default:
		return cfg, fmt.Errorf("%w: unknown DATABASE_DRIVER %q", ErrInvalid, cfg.DatabaseDriver)
	}
	return cfg, nil
}

func parseUint8(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	return uint8(n), err
}
