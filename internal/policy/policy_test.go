package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dense-identity/callsig/internal/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nightly = `
timezone: UTC
windows:
  - days: [mon, tue, wed, thu, fri]
    start: "22:00"
    end: "07:00"
  - days: [sunday]
    start: "12:00"
    end: "14:00"
`

func TestScheduleContains(t *testing.T) {
	s, err := ParseSchedule([]byte(nightly))
	require.NoError(t, err)

	// 2026-03-02 is a Monday.
	at := func(day, hour, minute int) time.Time {
		return time.Date(2026, 3, day, hour, minute, 0, 0, time.UTC)
	}
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"monday evening before window", at(2, 21, 59), false},
		{"monday late", at(2, 22, 0), true},
		{"tuesday early, carried from monday", at(3, 6, 59), true},
		{"tuesday at end", at(3, 7, 0), false},
		{"monday early, sunday has no night window", at(2, 3, 0), false},
		{"saturday early, carried from friday", at(7, 3, 0), true},
		{"sunday night", at(8, 23, 0), false},
		{"sunday noon", at(8, 12, 30), true},
		{"sunday at end", at(8, 14, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.Contains(tc.t))
		})
	}
}

func TestScheduleAllDays(t *testing.T) {
	s, err := ParseSchedule([]byte("timezone: UTC\nwindows:\n  - days: [\"*\"]\n    start: \"00:00\"\n    end: \"00:00\"\n"))
	require.NoError(t, err)
	assert.True(t, s.Contains(time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)))
}

func TestScheduleErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"bad day":      "windows:\n  - days: [funday]\n    start: \"01:00\"\n    end: \"02:00\"\n",
		"no days":      "windows:\n  - start: \"01:00\"\n    end: \"02:00\"\n",
		"bad start":    "windows:\n  - days: [mon]\n    start: \"25:00\"\n    end: \"02:00\"\n",
		"bad timezone": "timezone: Mars/Olympus\n",
		"bad yaml":     "windows: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSchedule([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestNilScheduleNeverMutes(t *testing.T) {
	var s *Schedule
	assert.False(t, s.Contains(time.Now()))
}

func signLicense(t *testing.T, secret string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "+15550001111",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestGateLicense(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)

	cases := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"no secret disables check", Config{}, true},
		{"missing token", Config{LicenseSecret: "s3cret"}, false},
		{"valid", Config{LicenseSecret: "s3cret", LicenseToken: signLicense(t, "s3cret", now.Add(time.Hour))}, true},
		{"expired", Config{LicenseSecret: "s3cret", LicenseToken: signLicense(t, "s3cret", now.Add(-time.Hour))}, false},
		{"wrong secret", Config{LicenseSecret: "s3cret", LicenseToken: signLicense(t, "other", now.Add(time.Hour))}, false},
		{"garbage", Config{LicenseSecret: "s3cret", LicenseToken: "not-a-jwt"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := New(&tc.cfg, clk)
			require.NoError(t, err)
			assert.Equal(t, tc.want, g.HasValidCredentials())
		})
	}
}

func TestGateFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(nightly), 0o600))

	clk := clock.NewFake(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC))
	g, err := New(&Config{CallsEnabled: true, DNDFile: path}, clk)
	require.NoError(t, err)

	assert.True(t, g.CallsEnabled())
	assert.False(t, g.IsOtherCallActive())
	assert.True(t, g.IsMutedNow())

	g.SetCallsEnabled(false)
	g.SetOtherCallActive(true)
	g.SetSchedule(nil)
	assert.False(t, g.CallsEnabled())
	assert.True(t, g.IsOtherCallActive())
	assert.False(t, g.IsMutedNow())

	_, err = New(&Config{DNDFile: filepath.Join(t.TempDir(), "missing.yaml")}, clk)
	assert.Error(t, err)
}
