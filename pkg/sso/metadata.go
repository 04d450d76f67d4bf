package sso

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gatehouse/pkg/async"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// SAML bindings for SingleSignOnService endpoints
const (
	BindingHTTPRedirect = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect"
	BindingHTTPPost     = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
)

const (
	DefaultMetadataCacheTTL  = time.Hour
	DefaultMetadataCacheSize = 1024

	maxMetadataBytes = 4 << 20
)

// IdpMetadata is the subset of IdP metadata needed to start a login
type IdpMetadata struct {
	EntityID     string
	SSOURL       string
	Binding      string
	Certificates []string // base64 DER signing certificates
}

// ParseMetadata extracts the IdP entity id, its SingleSignOnService location
// and its signing certificates. HTTP-Redirect is preferred over other
// bindings. EntitiesDescriptor wrappers are accepted; the first IdP wins.
func ParseMetadata(data []byte) (*IdpMetadata, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		md        IdpMetadata
		entityID  string
		inIdp     bool
		inSigning bool
		inCert    bool
		cert      strings.Builder
		found     bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse IdP metadata: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "EntityDescriptor":
				entityID = attrValue(t, "entityID")
			case "IDPSSODescriptor":
				if !found {
					inIdp = true
					md.EntityID = entityID
				}
			case "KeyDescriptor":
				use := attrValue(t, "use")
				inSigning = inIdp && (use == "" || use == "signing")
			case "X509Certificate":
				if inSigning {
					inCert = true
					cert.Reset()
				}
			case "SingleSignOnService":
				if !inIdp {
					continue
				}
				binding, location := attrValue(t, "Binding"), attrValue(t, "Location")
				if location == "" {
					continue
				}
				if md.SSOURL == "" || (binding == BindingHTTPRedirect && md.Binding != BindingHTTPRedirect) {
					md.SSOURL, md.Binding = location, binding
				}
			}
		case xml.CharData:
			if inCert {
				cert.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "X509Certificate":
				if inCert {
					md.Certificates = append(md.Certificates, strings.Join(strings.Fields(cert.String()), ""))
					inCert = false
				}
			case "KeyDescriptor":
				inSigning = false
			case "IDPSSODescriptor":
				if inIdp {
					inIdp = false
					found = true
				}
			}
		}
	}

	if md.SSOURL == "" {
		return nil, errors.New("IdP metadata has no SingleSignOnService location")
	}
	return &md, nil
}

func attrValue(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// MetadataResolver fetches and caches IdP metadata by URL. Concurrent
// lookups for the same URL share one fetch.
type MetadataResolver struct {
	client  *http.Client
	cache   *expirable.LRU[string, *IdpMetadata]
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewMetadataResolver creates a resolver whose entries expire after ttl
func NewMetadataResolver(client *http.Client, ttl time.Duration, metrics *observability.Metrics, logger *observability.Logger) *MetadataResolver {
	if client == nil {
		client = observability.NewHTTPClient(defaultHTTPTimeout)
	}
	if ttl <= 0 {
		ttl = DefaultMetadataCacheTTL
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &MetadataResolver{
		client:  client,
		cache:   expirable.NewLRU[string, *IdpMetadata](DefaultMetadataCacheSize, nil, ttl),
		metrics: metrics,
		logger:  logger,
	}
}

// SSOURL returns the IdP SSO endpoint for a SAML configuration: the
// explicit URL, else the inline metadata, else the metadata URL.
func (r *MetadataResolver) SSOURL(ctx context.Context, cfg *SamlConfig) (string, error) {
	switch {
	case cfg.IdpSSOURL != "":
		return cfg.IdpSSOURL, nil
	case cfg.MetadataXML != "":
		md, err := ParseMetadata([]byte(cfg.MetadataXML))
		if err != nil {
			return "", auth.NewError(auth.CodeConfigIncomplete, "IdP metadata XML has no SSO location", err)
		}
		return md.SSOURL, nil
	case cfg.MetadataURL != "":
		md, err := r.Resolve(ctx, cfg.MetadataURL)
		if err != nil {
			return "", auth.NewError(auth.CodeConfigIncomplete, "IdP metadata could not be resolved", err)
		}
		return md.SSOURL, nil
	}
	return "", auth.Errorf(auth.CodeConfigIncomplete, "SAML configuration has no IdP SSO URL or metadata")
}

// Resolve returns cached metadata for url, fetching it on a miss
func (r *MetadataResolver) Resolve(ctx context.Context, url string) (*IdpMetadata, error) {
	if md, ok := r.cache.Get(url); ok {
		return md, nil
	}
	return r.load(ctx, url)
}

// Refresh refetches url and replaces the cached entry
func (r *MetadataResolver) Refresh(ctx context.Context, url string) error {
	_, err := r.load(ctx, url)
	return err
}

func (r *MetadataResolver) load(ctx context.Context, url string) (*IdpMetadata, error) {
	v, err, _ := r.group.Do(url, func() (interface{}, error) {
		md, err := r.fetch(ctx, url)
		if err != nil {
			r.observe("error")
			return nil, err
		}
		r.observe("success")
		r.cache.Add(url, md)
		return md, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*IdpMetadata), nil
}

func (r *MetadataResolver) fetch(ctx context.Context, url string) (*IdpMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch IdP metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("IdP metadata endpoint returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read IdP metadata: %w", err)
	}
	return ParseMetadata(data)
}

func (r *MetadataResolver) observe(result string) {
	if r.metrics != nil {
		r.metrics.MetadataFetches.WithLabelValues(result).Inc()
	}
}

// refreshConcurrency bounds parallel metadata fetches in one refresh run
const refreshConcurrency = 4

// MetadataRefresher periodically refreshes the metadata of every active
// SAML configuration that uses a metadata URL
type MetadataRefresher struct {
	configs  ConfigStore
	resolver *MetadataResolver
	logger   *observability.Logger
	timeout  time.Duration
	cron     *cron.Cron
}

// NewMetadataRefresher creates a refresher; call Start to schedule it
func NewMetadataRefresher(configs ConfigStore, resolver *MetadataResolver, logger *observability.Logger) *MetadataRefresher {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &MetadataRefresher{
		configs:  configs,
		resolver: resolver,
		logger:   logger,
		timeout:  time.Minute,
		cron:     cron.New(),
	}
}

// Start schedules RefreshAll with a standard five-field cron spec
func (m *MetadataRefresher) Start(spec string) error {
	if _, err := m.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		m.RefreshAll(ctx)
	}); err != nil {
		return fmt.Errorf("invalid metadata refresh schedule %q: %w", spec, err)
	}
	m.cron.Start()
	m.logger.WithField("schedule", spec).Info("IdP metadata refresher started")
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish
func (m *MetadataRefresher) Stop(ctx context.Context) error {
	select {
	case <-m.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshAll refreshes every active SAML metadata URL and returns the
// number refreshed. Failures are logged and do not stop the run.
func (m *MetadataRefresher) RefreshAll(ctx context.Context) int {
	configs, err := m.configs.ListActive(ctx)
	if err != nil {
		m.logger.WithError(err).Error("failed to list active SSO configurations")
		return 0
	}

	var targets []*SsoConfig
	for _, cfg := range configs {
		if cfg.Protocol == ProtocolSAML && cfg.Saml != nil && cfg.Saml.MetadataURL != "" {
			targets = append(targets, cfg)
		}
	}

	errs := async.Batch(ctx, targets, refreshConcurrency, 0, "metadata refresh", m.logger,
		func(ctx context.Context, cfg *SsoConfig) error {
			if err := m.resolver.Refresh(ctx, cfg.Saml.MetadataURL); err != nil {
				m.logger.WithError(err).WithField("org_id", cfg.OrgID).Warn("failed to refresh IdP metadata")
				return err
			}
			return nil
		})
	return len(targets) - len(errs)
}
