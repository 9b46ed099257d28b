package fetcher

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	collyfetcher "github.com/JakeFAU/realtime-news-extractor/internal/fetcher/colly"
)

var headerOverflowHints = []string{
	"headers exceeded",
	"header too large",
	"headers too large",
	"header overflow",
	"hpe_header_overflow",
	"header field too long",
}

// Classify maps a transport error or HTTP status to a FetchError. It returns
// nil for a 2xx response without error.
func Classify(rawURL string, status int, err error) *crawler.FetchError {
	if err != nil {
		return &crawler.FetchError{URL: rawURL, Kind: classifyError(err), StatusCode: status, Err: err}
	}
	if status >= 200 && status < 300 {
		return nil
	}
	return &crawler.FetchError{
		URL:        rawURL,
		Kind:       classifyStatus(status),
		StatusCode: status,
		Err:        fmt.Errorf("http status %d %s", status, http.StatusText(status)),
	}
}

func classifyStatus(status int) crawler.FetchErrorKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return crawler.FetchBlocked
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return crawler.FetchTransient
	default:
		return crawler.FetchPermanent
	}
}

func classifyError(err error) crawler.FetchErrorKind {
	if errors.Is(err, context.Canceled) {
		return crawler.FetchPermanent
	}
	if errors.Is(err, collyfetcher.ErrTooManyRedirects) {
		return crawler.FetchPermanent
	}
	var certErr x509.CertificateInvalidError
	if errors.As(err, &certErr) && certErr.Reason == x509.Expired {
		return crawler.FetchCertExpired
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "certificate has expired") || strings.Contains(msg, "cert_has_expired") {
		return crawler.FetchCertExpired
	}
	for _, hint := range headerOverflowHints {
		if strings.Contains(msg, hint) {
			return crawler.FetchHeaderOverflow
		}
	}
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) || errors.As(err, &certErr) {
		return crawler.FetchPermanent
	}
	return crawler.FetchTransient
}
