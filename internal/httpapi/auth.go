package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

const (
	HeaderSigner    = "X-Pixelana-Signer"
	HeaderSignature = "X-Pixelana-Signature"
	// HeaderTimestamp is the signing time in unix milliseconds.
	HeaderTimestamp = "X-Pixelana-Timestamp"

	DefaultSignatureWindow = 30 * time.Second

	maxBody = 64 << 10
)

type signerKey struct{}

// SigningPayload is what a client signs: "METHOD PATH\nTIMESTAMP\n" followed
// by the raw body.
func SigningPayload(method, path, timestamp string, body []byte) []byte {
	out := make([]byte, 0, len(method)+len(path)+len(timestamp)+3+len(body))
	out = append(out, method...)
	out = append(out, ' ')
	out = append(out, path...)
	out = append(out, '\n')
	out = append(out, timestamp...)
	out = append(out, '\n')
	return append(out, body...)
}

// Verifier authenticates signed requests. A signature is accepted once, and
// only while its timestamp is within window of the server clock.
type Verifier struct {
	window time.Duration
	now    func() time.Time

	mu sync.Mutex
	// seen maps a used signature to when its timestamp leaves the window.
	seen map[solana.Signature]time.Time
}

func NewVerifier(window time.Duration) *Verifier {
	if window <= 0 {
		window = DefaultSignatureWindow
	}
	return &Verifier{window: window, now: time.Now, seen: make(map[solana.Signature]time.Time)}
}

// claim records sig as used. It fails if sig was already used.
func (v *Verifier) claim(sig solana.Signature, expires time.Time) bool {
	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()
	for s, exp := range v.seen {
		if now.After(exp) {
			delete(v.seen, s)
		}
	}
	if _, used := v.seen[sig]; used {
		return false
	}
	v.seen[sig] = expires
	return true
}

// Middleware authenticates the request as the ed25519 key in HeaderSigner.
// The body is buffered and handed on unchanged.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signer, err := solana.PublicKeyFromBase58(r.Header.Get(HeaderSigner))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing or malformed "+HeaderSigner)
			return
		}
		sig, err := solana.SignatureFromBase58(r.Header.Get(HeaderSignature))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing or malformed "+HeaderSignature)
			return
		}
		ts := r.Header.Get(HeaderTimestamp)
		ms, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing or malformed "+HeaderTimestamp)
			return
		}
		signedAt := time.UnixMilli(ms)
		if d := v.now().Sub(signedAt); d > v.window || d < -v.window {
			writeError(w, http.StatusUnauthorized, "stale signature")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		if len(body) > maxBody {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		if !sig.Verify(signer, SigningPayload(r.Method, r.URL.Path, ts, body)) {
			writeError(w, http.StatusUnauthorized, "bad signature")
			return
		}
		if !v.claim(sig, signedAt.Add(v.window)) {
			writeError(w, http.StatusUnauthorized, "signature already used")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), signerKey{}, signer)))
	})
}

func SignerFrom(ctx context.Context) (solana.PublicKey, bool) {
	pk, ok := ctx.Value(signerKey{}).(solana.PublicKey)
	return pk, ok
}
