package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInitDataMalformed = errors.New("malformed init data")
	ErrInitDataSignature = errors.New("init data signature mismatch")
	ErrInitDataStale     = errors.New("init data expired")
)

const (
	// DefaultInitDataMaxAge - сколько живёт init_data после auth_date
	DefaultInitDataMaxAge = time.Hour
	initDataClockSkew     = 5 * time.Minute
)

// InitDataVerifier checks Telegram WebApp init_data against the bot token.
type InitDataVerifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewInitDataVerifier derives the WebApp secret from botToken. maxAge <= 0
// falls back to DefaultInitDataMaxAge.
func NewInitDataVerifier(botToken string, maxAge time.Duration) *InitDataVerifier {
	if maxAge <= 0 {
		maxAge = DefaultInitDataMaxAge
	}
	return &InitDataVerifier{
		secret: WebAppSecret(botToken),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// WebAppSecret is HMAC-SHA256 of the bot token keyed with "WebAppData".
func WebAppSecret(botToken string) []byte {
	m := hmac.New(sha256.New, []byte("WebAppData"))
	m.Write([]byte(botToken))
	return m.Sum(nil)
}

// DataCheckString joins every field except hash as sorted key=value lines.
func DataCheckString(values url.Values) string {
	lines := make([]string, 0, len(values))
	for k, v := range values {
		if k == "hash" {
			continue
		}
		lines = append(lines, k+"="+strings.Join(v, ""))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// Verify returns the init_data fields when the hash matches and auth_date is
// within the freshness window. Errors wrap one of the ErrInitData* values.
func (v *InitDataVerifier) Verify(initData string) (url.Values, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitDataMalformed, err)
	}
	provided, err := hex.DecodeString(values.Get("hash"))
	if err != nil || len(provided) == 0 {
		return nil, fmt.Errorf("%w: missing or bad hash", ErrInitDataMalformed)
	}

	m := hmac.New(sha256.New, v.secret)
	m.Write([]byte(DataCheckString(values)))
	if !hmac.Equal(m.Sum(nil), provided) {
		return nil, ErrInitDataSignature
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: auth_date %q", ErrInitDataMalformed, values.Get("auth_date"))
	}
	age := v.now().Sub(time.Unix(authDate, 0))
	if age > v.maxAge || age < -initDataClockSkew {
		return nil, fmt.Errorf("%w: issued %s ago", ErrInitDataStale, age.Truncate(time.Second))
	}

	values.Del("hash")
	return values, nil
}
