// Package smartconnect is a client for the Angel One SmartAPI REST endpoints
// used for historical research: password+TOTP login, scrip search and
// historical candle download.
//
// Usage example:
//
//	sc := smartconnect.NewSmartConnect(smartconnect.Config{APIKey: "your_api_key"})
//	if _, err := sc.GenerateSession(ctx, "CLIENTID", "PASSWORD", "123456"); err != nil { ... }
//	candles, err := sc.GetCandleData(ctx, smartconnect.CandleParams{
//	    Exchange: "NSE", SymbolToken: "3045", Interval: smartconnect.IntervalOneDay,
//	    From: from, To: to,
//	})
package smartconnect

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	// ErrLoginFailed is returned when the login endpoint answers status=false.
	ErrLoginFailed = errors.New("smartapi login failed")

	// ErrAPI wraps error payloads ({"status": false} or an error_type).
	ErrAPI = errors.New("smartapi error")

	// ErrNotLoggedIn is returned by secure endpoints before GenerateSession.
	ErrNotLoggedIn = errors.New("smartapi session not established")
)

// ---- Config & client ----

type Config struct {
	APIKey      string
	AccessToken string

	RootURL        string        // default: https://apiconnect.angelone.in
	Debug          bool          // log request/response bodies at debug level
	Timeout        time.Duration // default: 7s
	ProxyURL       string        // optional HTTP proxy URL
	DisableSSL     bool          // if true, InsecureSkipVerify
	UserType       string        // default: USER
	SourceID       string        // default: WEB
	ClientPublicIP string        // default: resolved local IP
	ClientLocalIP  string        // default: resolved local IP, else 127.0.0.1
	ClientMAC      string        // default from interface MAC

	// HTTPClient overrides the transport built from the fields above.
	HTTPClient *http.Client
}

type SmartConnect struct {
	apiKey string

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	feedToken    string
	userID       string

	rootURL    string
	debug      bool
	httpClient *http.Client

	// header fields
	userType string
	sourceID string

	clientPublicIP string
	clientLocalIP  string
	clientMAC      string
}

const (
	defaultRoot = "https://apiconnect.angelone.in"
	contentJSON = "application/json"
)

var routes = map[string]string{
	"api.login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.logout":       "/rest/secure/angelbroking/user/v1/logout",
	"api.token":        "/rest/auth/angelbroking/jwt/v1/generateTokens",
	"api.user.profile": "/rest/secure/angelbroking/user/v1/getProfile",

	"api.candle.data":  "/rest/secure/angelbroking/historical/v1/getCandleData",
	"api.search.scrip": "/rest/secure/angelbroking/order/v1/searchScrip",
}

// GetLocalIP finds the first non-loopback IPv4 address.
func GetLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	for _, address := range addrs {
		if ipNet, ok := address.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String(), nil
			}
		}
	}
	return "", fmt.Errorf("no local IP found")
}

// NewSmartConnect initializes the client and its HTTP transport.
func NewSmartConnect(cfg Config) *SmartConnect {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.UserType == "" {
		cfg.UserType = "USER"
	}
	if cfg.SourceID == "" {
		cfg.SourceID = "WEB"
	}
	if cfg.ClientLocalIP == "" {
		localIP, err := GetLocalIP()
		if err != nil {
			slog.Debug("smartapi local IP lookup failed", "error", err)
		}
		cfg.ClientLocalIP = firstNonEmpty(localIP, "127.0.0.1")
	}
	cfg.ClientPublicIP = firstNonEmpty(cfg.ClientPublicIP, cfg.ClientLocalIP)
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = getMACFallback()
	}

	client := cfg.HTTPClient
	if client == nil {
		tr := &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: cfg.DisableSSL,
			},
		}
		if cfg.ProxyURL != "" {
			if purl, err := url.Parse(cfg.ProxyURL); err == nil {
				tr.Proxy = http.ProxyURL(purl)
			}
		}
		client = &http.Client{Transport: tr, Timeout: cfg.Timeout}
	}

	return &SmartConnect{
		apiKey:         cfg.APIKey,
		accessToken:    cfg.AccessToken,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		debug:          cfg.Debug,
		httpClient:     client,
		userType:       cfg.UserType,
		sourceID:       cfg.SourceID,
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func getMACFallback() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

// ---- Helpers ----

func (sc *SmartConnect) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", contentJSON)
	h.Set("Accept", contentJSON)
	h.Set("X-ClientLocalIP", sc.clientLocalIP)
	h.Set("X-ClientPublicIP", sc.clientPublicIP)
	h.Set("X-MACAddress", sc.clientMAC)
	h.Set("X-PrivateKey", sc.apiKey)
	h.Set("X-UserType", sc.userType)
	h.Set("X-SourceID", sc.sourceID)
	if tok := sc.AccessToken(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}

func (sc *SmartConnect) buildURL(route string) (string, error) {
	uri, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("unknown route: %s", route)
	}
	return sc.rootURL + uri, nil
}

// envelope is the common SmartAPI response shape.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

// doRequest sends params as a JSON body (or query string for GET) and
// decodes the envelope. Non-2xx statuses and status=false payloads are
// returned as ErrAPI.
func (sc *SmartConnect) doRequest(ctx context.Context, method, route string, params map[string]any) (*envelope, error) {
	fullURL, err := sc.buildURL(route)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	reqURL := fullURL

	if method == http.MethodGet {
		if len(params) > 0 {
			q := url.Values{}
			for k, v := range params {
				q.Set(k, fmt.Sprint(v))
			}
			reqURL += "?" + q.Encode()
		}
	} else {
		if params == nil {
			params = map[string]any{}
		}
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", route, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header = sc.requestHeaders()

	if sc.debug {
		slog.Debug("smartapi request", "method", method, "route", route)
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", route, err)
	}

	if sc.debug {
		slog.Debug("smartapi response", "route", route, "code", resp.StatusCode, "bytes", len(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%s: http %d: %w", route, resp.StatusCode, ErrAPI)
		}
		return nil, fmt.Errorf("couldn't parse JSON response: %w", err)
	}
	if env.ErrorType != "" || resp.StatusCode >= 300 || !env.Status {
		return &env, fmt.Errorf("%s: http %d %s %s %s: %w", route, resp.StatusCode, env.ErrorType, env.ErrorCode, env.Message, ErrAPI)
	}
	return &env, nil
}

// ---- Setters/Getters ----

func (sc *SmartConnect) AccessToken() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.accessToken
}

func (sc *SmartConnect) FeedToken() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.feedToken
}

func (sc *SmartConnect) UserID() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.userID
}

// Session holds the tokens returned by a successful login.
type Session struct {
	ClientCode   string `json:"clientcode"`
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// ---- API Methods ----

// GenerateSession logs in with client code, password and a current TOTP
// code, and stores the returned tokens on the client.
func (sc *SmartConnect) GenerateSession(ctx context.Context, clientCode, password, totp string) (*Session, error) {
	env, err := sc.doRequest(ctx, http.MethodPost, "api.login", map[string]any{
		"clientcode": clientCode,
		"password":   password,
		"totp":       totp,
	})
	if err != nil {
		if errors.Is(err, ErrAPI) {
			return nil, fmt.Errorf("%w: %v", ErrLoginFailed, err)
		}
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(env.Data, &s); err != nil || s.JWTToken == "" {
		return nil, fmt.Errorf("unexpected login response format: %w", ErrLoginFailed)
	}
	s.ClientCode = clientCode

	sc.mu.Lock()
	sc.accessToken = s.JWTToken
	sc.refreshToken = s.RefreshToken
	sc.feedToken = s.FeedToken
	sc.userID = clientCode
	sc.mu.Unlock()

	slog.Info("smartapi session established", "client", clientCode)
	return &s, nil
}

// TerminateSession logs the current user out.
func (sc *SmartConnect) TerminateSession(ctx context.Context) error {
	_, err := sc.doRequest(ctx, http.MethodPost, "api.logout", map[string]any{"clientcode": sc.UserID()})
	if err == nil {
		sc.mu.Lock()
		sc.accessToken, sc.refreshToken, sc.feedToken = "", "", ""
		sc.mu.Unlock()
	}
	return err
}

// Scrip is one search result.
type Scrip struct {
	Exchange      string `json:"exchange"`
	TradingSymbol string `json:"tradingsymbol"`
	SymbolToken   string `json:"symboltoken"`
}

// SearchScrip finds instruments on exchange matching query.
func (sc *SmartConnect) SearchScrip(ctx context.Context, exchange, query string) ([]Scrip, error) {
	if sc.AccessToken() == "" {
		return nil, ErrNotLoggedIn
	}
	env, err := sc.doRequest(ctx, http.MethodPost, "api.search.scrip", map[string]any{
		"exchange":    exchange,
		"searchscrip": query,
	})
	if err != nil {
		return nil, err
	}
	var out []Scrip
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &out); err != nil {
			return nil, fmt.Errorf("decode scrip search: %w", err)
		}
	}
	return out, nil
}
