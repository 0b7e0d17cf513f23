package policy

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dense-identity/callsig/internal/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type Config struct {
	CallsEnabled bool   `env:"CALLS_ENABLED" envDefault:"true"`
	DNDFile      string `env:"DND_FILE"`

	// License token checked with HS256. An empty secret disables the check.
	LicenseToken  string `env:"LICENSE_TOKEN"`
	LicenseSecret string `env:"LICENSE_SECRET"`
}

// Gate answers the admission questions asked for every incoming offer.
type Gate struct {
	clock     clock.Clock
	enabled   atomic.Bool
	otherCall atomic.Bool
	schedule  atomic.Pointer[Schedule]

	licenseToken  string
	licenseSecret []byte
}

// New builds a Gate from cfg, loading the DND schedule when one is named.
func New(cfg *Config, clk clock.Clock) (*Gate, error) {
	if clk == nil {
		clk = clock.Real()
	}
	g := &Gate{
		clock:         clk,
		licenseToken:  cfg.LicenseToken,
		licenseSecret: []byte(cfg.LicenseSecret),
	}
	g.enabled.Store(cfg.CallsEnabled)

	if cfg.DNDFile != "" {
		s, err := LoadSchedule(cfg.DNDFile)
		if err != nil {
			return nil, err
		}
		g.schedule.Store(s)
	}
	return g, nil
}

func (g *Gate) CallsEnabled() bool { return g.enabled.Load() }

func (g *Gate) SetCallsEnabled(v bool) { g.enabled.Store(v) }

// IsOtherCallActive reports a call held by another app on this device.
func (g *Gate) IsOtherCallActive() bool { return g.otherCall.Load() }

func (g *Gate) SetOtherCallActive(v bool) { g.otherCall.Store(v) }

func (g *Gate) IsMutedNow() bool {
	return g.schedule.Load().Contains(g.clock.Now())
}

func (g *Gate) SetSchedule(s *Schedule) { g.schedule.Store(s) }

func (g *Gate) HasValidCredentials() bool {
	if len(g.licenseSecret) == 0 {
		return true
	}
	if err := g.checkLicense(); err != nil {
		log.Warn().Err(err).Msg("license check failed")
		return false
	}
	return true
}

func (g *Gate) checkLicense() error {
	if g.licenseToken == "" {
		return errors.New("no license token")
	}
	token, err := jwt.ParseWithClaims(g.licenseToken, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.licenseSecret, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.clock.Now),
	)
	if err != nil {
		return fmt.Errorf("invalid license: %w", err)
	}
	if !token.Valid {
		return errors.New("invalid license claims")
	}
	return nil
}
