package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"flag"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/acme/autocert"

	"txn-density-map/pkg/api"
	"txn-density-map/pkg/sheetfeed"
	"txn-density-map/pkg/snapshot"
)

//go:embed public_html/*
var content embed.FS

// CompileVersion is stamped through -ldflags by the release script.
var CompileVersion = "dev"

// The .env load must sit above the flag block: flag defaults read the
// environment while package variables initialise, in declaration order.
var _ = godotenv.Load()

var (
	feedURL      = flag.String("feed-url", getEnv("TXMAP_FEED_URL", ""), "HTTP(S) address of the published transaction sheet (JSON)")
	pollInterval = flag.Duration("poll-interval", getEnvAsDuration("TXMAP_POLL_INTERVAL", 5*time.Minute), "How often to refetch the sheet")
	port         = flag.Int("port", getEnvAsInt("TXMAP_PORT", 8765), "Port for running the server")
	domain       = flag.String("domain", getEnv("TXMAP_DOMAIN", ""), "Use 80 and 443 ports. Automatic HTTPS cert via Let's Encrypt.")
	cacheTTL     = flag.Duration("cache-ttl", getEnvAsDuration("TXMAP_CACHE_TTL", 30*time.Second), "How long rendered API responses stay cached; 0 disables the cache")
	defaultLat   = flag.Float64("default-lat", getEnvAsFloat("TXMAP_DEFAULT_LAT", 12.9716), "Default map latitude")
	defaultLon   = flag.Float64("default-lon", getEnvAsFloat("TXMAP_DEFAULT_LON", 77.5946), "Default map longitude")
	defaultZoom  = flag.Int("default-zoom", getEnvAsInt("TXMAP_DEFAULT_ZOOM", 12), "Default map zoom")
	version      = flag.Bool("version", false, "Show the application version")
)

// exportCooldown spaces out CSV exports per client IP.
const exportCooldown = 30 * time.Second

func main() {
	// 1. Flags and version banner.
	flag.Parse()

	if *version {
		fmt.Printf("txn-density-map version %s\n", CompileVersion)
		return
	}
	if *feedURL == "" {
		log.Fatal("feed-url is required; pass -feed-url or set TXMAP_FEED_URL")
	}

	// 2. Privilege warning for :80 / :443.
	if *domain != "" && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		log.Println("⚠  Binding to :80 / :443 requires super-user rights; run with sudo or as root.")
	}

	// 3. Snapshot plumbing and the feed poller.
	bus := snapshot.NewBus(16)
	store := snapshot.New(bus)
	kick := make(chan struct{}, 1)

	client := sheetfeed.NewClient(sheetfeed.Config{
		URL:       *feedURL,
		UserAgent: "txn-density-map/" + CompileVersion,
	})
	sheetfeed.Start(context.Background(), client, store, *pollInterval, kick, log.Printf)

	// 4. Routes and static assets.
	staticFS, err := fs.Sub(content, "public_html")
	if err != nil {
		log.Fatalf("static fs: %v", err)
	}

	http.Handle("/static/", http.StripPrefix("/static/",
		http.FileServer(http.FS(staticFS))))
	http.HandleFunc("/", mapHandler)

	handler := api.NewHandler(store, bus, kick,
		api.NewResponseCache(*cacheTTL), api.NewRateLimiter(exportCooldown),
		*pollInterval, log.Printf)
	handler.Register(http.DefaultServeMux)

	rootHandler := withServerHeader(http.DefaultServeMux)

	// 5. HTTP or HTTPS serving.
	if *domain != "" {
		go serveWithDomain(*domain, rootHandler)
	} else {
		addr := fmt.Sprintf(":%d", *port)
		go func() {
			log.Printf("HTTP server ➜ http://localhost%s", addr)
			if err := http.ListenAndServe(addr, rootHandler); err != nil {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}

	// 6. Keep the main goroutine alive.
	select {}
}

// mapHandler renders the dashboard shell. All live data arrives through
// the JSON API after load, so the template only carries boot defaults.
func mapHandler(w http.ResponseWriter, r *http.Request) {
	tmpl := template.Must(template.ParseFS(content, "public_html/map.html"))

	display := CompileVersion
	if display == "dev" {
		display = "latest"
	}

	data := struct {
		Version     string
		DefaultLat  float64
		DefaultLon  float64
		DefaultZoom int
	}{
		Version:     display,
		DefaultLat:  *defaultLat,
		DefaultLon:  *defaultLon,
		DefaultZoom: *defaultZoom,
	}

	// Render into a buffer first so a template error never produces a
	// half-written page.
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		log.Printf("map template: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		if isClientDisconnect(err) {
			log.Printf("client disconnected while receiving the page")
		} else {
			log.Printf("page write: %v", err)
		}
	}
}

// withServerHeader stamps every response and short-circuits HEAD / so
// uptime probes stay cheap.
func withServerHeader(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "txn-density-map/"+CompileVersion)

		if r.Method == http.MethodHead && r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// serveWithDomain runs two listeners:
//
//	:80  serves ACME HTTP-01 challenges plus a 301 redirect to https://<domain>
//	:443 serves HTTPS with automatic Let's Encrypt certificates
//
// When autocert cannot match a certificate for the presented SNI (mostly
// raw IP hits), the last successfully issued certificate is served instead
// so the handshake still completes.
func serveWithDomain(domain string, handler http.Handler) {
	certMgr := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache("certs"),
		HostPolicy: func(ctx context.Context, host string) error {
			if host == domain || host == "www."+domain {
				return nil
			}
			if net.ParseIP(host) != nil {
				return nil
			}
			return errors.New("acme/autocert: host not configured")
		},
	}

	go func() {
		mux80 := http.NewServeMux()
		mux80.Handle("/.well-known/acme-challenge/", certMgr.HTTPHandler(nil))
		mux80.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			target := "https://" + domain + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		})

		log.Printf("HTTP  server (ACME+redirect) ➜ :80")
		if err := (&http.Server{
			Addr:              ":80",
			Handler:           mux80,
			ReadHeaderTimeout: 10 * time.Second,
		}).ListenAndServe(); err != nil {
			log.Printf("HTTP  server error: %v", err)
		}
	}()

	// Daily renewal probe keeps the certificate warm.
	go func() {
		t := time.NewTicker(24 * time.Hour)
		defer t.Stop()
		for range t.C {
			if _, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err != nil {
				log.Printf("autocert renewal check: %v", err)
			}
		}
	}()

	tlsCfg := certMgr.TLSConfig()

	var fallbackCert atomic.Pointer[tls.Certificate]
	go func() {
		for fallbackCert.Load() == nil {
			if c, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err == nil {
				fallbackCert.Store(c)
				return
			}
			time.Sleep(time.Minute)
		}
	}()
	tlsCfg.GetCertificate = func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := certMgr.GetCertificate(chi)
		if err == nil {
			return c, nil
		}
		if fb := fallbackCert.Load(); fb != nil {
			return fb, nil
		}
		return nil, err
	}

	log.Printf("HTTPS server for %s ➜ :443", domain)
	if err := (&http.Server{
		Addr:              ":443",
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}).ListenAndServeTLS("", ""); err != nil {
		log.Printf("HTTPS server error: %v", err)
	}
}

func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}
