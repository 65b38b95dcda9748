package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/caddyserver/certmagic"
)

// CertManager serves the dashboard over HTTPS with a certificate obtained
// and renewed automatically through ACME.
type CertManager struct {
	domain string
	logger *slog.Logger
	cfg    *certmagic.Config
}

// NewCertManager configures certmagic for a single dashboard domain.
func NewCertManager(domain, email string, staging bool, logger *slog.Logger) (*CertManager, error) {
	if domain == "" {
		return nil, errors.New("tls: domain not set")
	}
	certmagic.DefaultACME.Email = email
	certmagic.DefaultACME.Agreed = true
	if staging {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}

	cfg := certmagic.NewDefault()
	return &CertManager{domain: domain, logger: logger, cfg: cfg}, nil
}

// Domain returns the managed name.
func (cm *CertManager) Domain() string { return cm.domain }

// ListenAndServe obtains the certificate, then serves handler on :443 and the
// ACME HTTP challenge plus an HTTPS redirect on :80. It returns when ctx is
// cancelled or either listener fails.
func (cm *CertManager) ListenAndServe(ctx context.Context, handler http.Handler) error {
	cm.logger.Info("managing certificate", "domain", cm.domain)
	if err := cm.cfg.ManageSync(ctx, []string{cm.domain}); err != nil {
		return fmt.Errorf("manage %s: %w", cm.domain, err)
	}

	tlsCfg := cm.cfg.TLSConfig()
	tlsCfg.NextProtos = append([]string{"h2", "http/1.1"}, tlsCfg.NextProtos...)
	ln, err := tls.Listen("tcp", fmt.Sprintf(":%d", certmagic.HTTPSPort), tlsCfg)
	if err != nil {
		return fmt.Errorf("tls listen: %w", err)
	}

	httpsSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	redirectSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", certmagic.HTTPPort),
		Handler:           cm.httpChallengeHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() { errCh <- httpsSrv.Serve(ln) }()
	go func() { errCh <- redirectSrv.ListenAndServe() }()
	cm.logger.Info("serving HTTPS", "port", certmagic.HTTPSPort, "domain", cm.domain)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpsSrv.Shutdown(shutdownCtx)
	redirectSrv.Shutdown(shutdownCtx)

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

func (cm *CertManager) httpChallengeHandler() http.Handler {
	redirect := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://"+cm.domain+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
	for _, issuer := range cm.cfg.Issuers {
		if am, ok := issuer.(*certmagic.ACMEIssuer); ok {
			return am.HTTPChallengeHandler(redirect)
		}
	}
	return redirect
}
