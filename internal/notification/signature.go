package notification

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mir00r/region-failover/internal/errors"
	"github.com/mir00r/region-failover/pkg/logger"
)

// snsHost matches the SNS endpoints subscription and signing URLs may point at
var snsHost = regexp.MustCompile(`^sns\.[a-z0-9-]+\.amazonaws\.com(\.cn)?$`)

// ValidateSNSURL rejects anything but an HTTPS URL on an SNS host. what names
// the field in the error.
func ValidateSNSURL(raw, what string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.NewInvalidNotificationError(what+" is not a URL", err)
	}
	if u.Scheme != "https" || !snsHost.MatchString(u.Hostname()) {
		return nil, errors.NewInvalidNotificationError(fmt.Sprintf("%s host %q is not an SNS endpoint", what, u.Host), nil)
	}
	return u, nil
}

// CertFetcher retrieves the PEM signing certificate at an SNS URL
type CertFetcher interface {
	Fetch(ctx context.Context, certURL string) ([]byte, error)
}

// HTTPCertFetcher downloads signing certificates over HTTPS
type HTTPCertFetcher struct {
	Client *http.Client
}

// Fetch downloads the certificate, capped at 64 KiB
func (f HTTPCertFetcher) Fetch(ctx context.Context, certURL string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch signing certificate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch signing certificate: %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 64*1024))
}

// signedMessage holds the envelope fields that take part in the signature.
// Timestamp stays a string so the canonical form matches what SNS signed.
type signedMessage struct {
	Type             string  `json:"Type"`
	MessageID        string  `json:"MessageId"`
	TopicArn         string  `json:"TopicArn"`
	Subject          *string `json:"Subject"`
	Message          string  `json:"Message"`
	Timestamp        string  `json:"Timestamp"`
	Token            string  `json:"Token"`
	SubscribeURL     string  `json:"SubscribeURL"`
	SignatureVersion string  `json:"SignatureVersion"`
	Signature        string  `json:"Signature"`
	SigningCertURL   string  `json:"SigningCertURL"`
}

// canonical builds the string SNS signs for the message type
func (m signedMessage) canonical() (string, error) {
	var fields [][2]string
	switch m.Type {
	case TypeNotification:
		fields = append(fields, [2]string{"Message", m.Message}, [2]string{"MessageId", m.MessageID})
		if m.Subject != nil {
			fields = append(fields, [2]string{"Subject", *m.Subject})
		}
		fields = append(fields,
			[2]string{"Timestamp", m.Timestamp},
			[2]string{"TopicArn", m.TopicArn},
			[2]string{"Type", m.Type})
	case TypeSubscriptionConfirmation, TypeUnsubscribeConfirmation:
		fields = append(fields,
			[2]string{"Message", m.Message},
			[2]string{"MessageId", m.MessageID},
			[2]string{"SubscribeURL", m.SubscribeURL},
			[2]string{"Timestamp", m.Timestamp},
			[2]string{"Token", m.Token},
			[2]string{"TopicArn", m.TopicArn},
			[2]string{"Type", m.Type})
	default:
		return "", fmt.Errorf("unsigned message type %q", m.Type)
	}

	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f[0])
		b.WriteByte('\n')
		b.WriteString(f[1])
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// SignatureVerifier checks SNS message signatures against the signing
// certificate SNS publishes. Certificates are cached per URL.
type SignatureVerifier struct {
	fetcher CertFetcher
	now     func() time.Time
	logger  *logger.Logger

	mu    sync.RWMutex
	certs map[string]*x509.Certificate
	group singleflight.Group
}

// NewSignatureVerifier creates a verifier that loads certificates with fetcher
func NewSignatureVerifier(fetcher CertFetcher, log *logger.Logger) *SignatureVerifier {
	return &SignatureVerifier{
		fetcher: fetcher,
		now:     time.Now,
		logger:  log.WithField("component", "sns_signature"),
		certs:   make(map[string]*x509.Certificate),
	}
}

// Verify checks the signature of the SNS envelope in raw. Versions 1 (SHA1)
// and 2 (SHA256) are accepted.
func (v *SignatureVerifier) Verify(ctx context.Context, raw []byte) error {
	var msg signedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errors.NewInvalidNotificationError("body is not valid JSON", err)
	}
	if msg.Signature == "" || msg.SigningCertURL == "" {
		return errors.NewUnauthorizedError("SNS message is not signed")
	}

	var hash crypto.Hash
	switch msg.SignatureVersion {
	case "1":
		hash = crypto.SHA1
	case "2":
		hash = crypto.SHA256
	default:
		return errors.NewUnauthorizedError(fmt.Sprintf("unsupported SignatureVersion %q", msg.SignatureVersion))
	}

	canonical, err := msg.canonical()
	if err != nil {
		return errors.NewUnauthorizedError(err.Error())
	}
	signature, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil {
		return errors.NewUnauthorizedError("signature is not base64")
	}

	cert, err := v.certificate(ctx, msg.SigningCertURL)
	if err != nil {
		return err
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errors.NewUnauthorizedError("signing certificate does not hold an RSA key")
	}

	if err := rsa.VerifyPKCS1v15(key, hash, digest(hash, canonical), signature); err != nil {
		v.logger.WithField("topic_arn", msg.TopicArn).WithField("message_id", msg.MessageID).
			Warn("SNS signature mismatch")
		return errors.NewUnauthorizedError("SNS signature does not verify")
	}
	return nil
}

func digest(hash crypto.Hash, s string) []byte {
	if hash == crypto.SHA1 {
		sum := sha1.Sum([]byte(s))
		return sum[:]
	}
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// certificate returns the cached or freshly fetched certificate at certURL
func (v *SignatureVerifier) certificate(ctx context.Context, certURL string) (*x509.Certificate, error) {
	u, err := ValidateSNSURL(certURL, "SigningCertURL")
	if err != nil {
		return nil, errors.NewUnauthorizedError(err.Error())
	}
	if !strings.HasSuffix(u.Path, ".pem") {
		return nil, errors.NewUnauthorizedError("SigningCertURL is not a PEM certificate")
	}

	v.mu.RLock()
	cert, ok := v.certs[certURL]
	v.mu.RUnlock()
	if ok && v.valid(cert) {
		return cert, nil
	}

	loaded, err, _ := v.group.Do(certURL, func() (interface{}, error) {
		body, err := v.fetcher.Fetch(ctx, certURL)
		if err != nil {
			return nil, err
		}
		block, _ := pem.Decode(body)
		if block == nil {
			return nil, fmt.Errorf("signing certificate is not PEM")
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse signing certificate: %w", err)
		}

		v.mu.Lock()
		v.certs[certURL] = cert
		v.mu.Unlock()
		v.logger.WithField("url", certURL).Debug("Loaded SNS signing certificate")
		return cert, nil
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeUnauthorized, "sns_signature", "signing certificate unavailable")
	}

	cert = loaded.(*x509.Certificate)
	if !v.valid(cert) {
		return nil, errors.NewUnauthorizedError("signing certificate is outside its validity period")
	}
	return cert, nil
}

func (v *SignatureVerifier) valid(cert *x509.Certificate) bool {
	now := v.now()
	return !now.Before(cert.NotBefore) && !now.After(cert.NotAfter)
}
