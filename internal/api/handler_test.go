package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/punchamoorthee/docledger/internal/classify"
	"github.com/punchamoorthee/docledger/internal/domain"
	"github.com/punchamoorthee/docledger/internal/extract"
	"github.com/punchamoorthee/docledger/internal/identity"
	"github.com/punchamoorthee/docledger/internal/models"
	"github.com/punchamoorthee/docledger/internal/service"
	"github.com/punchamoorthee/docledger/internal/store/memory"
)

type stubExtractor struct{ outcome extract.Outcome }

func (s stubExtractor) Extract(context.Context, []byte, string) (extract.Outcome, error) {
	return s.outcome, nil
}

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, string) (domain.Classification, error) {
	return domain.Classification{}, errors.New("upstream unavailable")
}

var readable = extract.Outcome{
	Status: extract.StatusReady,
	Source: extract.SourceDirectText,
	Text:   "Agenzia delle Entrate - avviso bonario, importo 120,00 euro.",
	Pages:  1,
}

type testServer struct {
	router http.Handler
	store  *memory.Store
}

func newTestServer(t *testing.T, adminKey string, classifier service.Classifier, outcome extract.Outcome) *testServer {
	t.Helper()
	st := memory.New(1)
	logger := zaptest.NewLogger(t)
	norm := identity.NewNormalizer("39")
	if classifier == nil {
		classifier = classify.NewStaticClassifier()
	}
	analysis := service.NewAnalysisService(st, st, stubExtractor{outcome: outcome}, classifier, norm,
		service.Options{Cost: 1, MaxUploadBytes: 1 << 10}, logger)
	admin := service.NewAdminService(adminKey, st, st, norm, logger)
	h := NewHandler(analysis, admin, st, 1<<10, logger)
	return &testServer{router: NewRouter(h), store: st}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func uploadRequest(t *testing.T, phone, field, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if phone != "" {
		if err := mw.WriteField("phone", phone); err != nil {
			t.Fatal(err)
		}
	}
	if field != "" {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
		hdr.Set("Content-Type", contentType)
		part, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv := newTestServer(t, "", nil, readable)

	rr := srv.do(uploadRequest(t, "333 123 4567", "file", "avviso.pdf", "application/pdf", []byte("%PDF-1.4")))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	resp := decode[models.AnalyzeResponse](t, rr)
	if !resp.OK || resp.Credits != 0 || resp.Source != "direct-text" || resp.RequestID == "" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Phone != "+393331234567" || resp.Result == nil {
		t.Errorf("response = %+v", resp)
	}

	// The only credit is spent: the second submission gets guidance.
	rr = srv.do(uploadRequest(t, "+393331234567", "image", "foto.jpg", "image/jpeg", []byte{0xff, 0xd8}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp = decode[models.AnalyzeResponse](t, rr)
	if resp.OK || resp.Message != service.CreditsFinishedMessage || resp.Result != nil {
		t.Errorf("response = %+v", resp)
	}
}

func keyed(req *http.Request, key string) *http.Request {
	req.Header.Set(IdempotencyKeyHeader, key)
	return req
}

func TestAnalyzeEndpointIdempotencyKey(t *testing.T) {
	srv := newTestServer(t, "", nil, readable)
	doc := []byte("%PDF-1.4 avviso")

	first := srv.do(keyed(uploadRequest(t, "+393330000020", "file", "avviso.pdf", "application/pdf", doc), "retry-42"))
	if first.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", first.Code, first.Body.String())
	}
	resp := decode[models.AnalyzeResponse](t, first)
	if !resp.OK || resp.Credits != 0 {
		t.Fatalf("response = %+v", resp)
	}

	// Same key, same document, same phone in another spelling: replayed, not charged.
	second := srv.do(keyed(uploadRequest(t, "333 000 0020", "file", "avviso.pdf", "application/pdf", doc), "retry-42"))
	if second.Code != http.StatusOK {
		t.Fatalf("replay status = %d, body %s", second.Code, second.Body.String())
	}
	if !bytes.Equal(bytes.TrimSpace(first.Body.Bytes()), bytes.TrimSpace(second.Body.Bytes())) {
		t.Errorf("replay body = %s, want %s", second.Body.String(), first.Body.String())
	}

	acc, _ := srv.store.GetAccount(context.Background(), "+393330000020")
	entries, _ := srv.store.Entries(context.Background(), acc.ID)
	if len(entries) != 2 || acc.Balance != 0 {
		t.Errorf("expected welcome + one usage entry, got balance %d entries %+v", acc.Balance, entries)
	}

	rr := srv.do(keyed(uploadRequest(t, "+393330000020", "file", "altro.pdf", "application/pdf", []byte("%PDF-1.4 altro")), "retry-42"))
	if rr.Code != http.StatusConflict {
		t.Errorf("mismatched payload status = %d", rr.Code)
	}
	if got := decode[map[string]string](t, rr)["error"]; got != "Key reuse with mismatched payload" {
		t.Errorf("error = %q", got)
	}
}

func TestAnalyzeEndpointIdempotencyInProgress(t *testing.T) {
	srv := newTestServer(t, "", nil, readable)
	doc := []byte("png")

	hash := requestHash("+393330000021", service.AnalyzeInput{Data: doc, ContentType: "image/png", Filename: "a.png"})
	if _, err := srv.store.ReserveKey(context.Background(), "busy", hash); err != nil {
		t.Fatalf("ReserveKey: %v", err)
	}
	rr := srv.do(keyed(uploadRequest(t, "+393330000021", "file", "a.png", "image/png", doc), "busy"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if len(srv.store.Snapshot()) != 0 {
		t.Error("in-progress key reached the ledger")
	}
}

func TestAnalyzeEndpointIdempotencyReleasedOnFailure(t *testing.T) {
	srv := newTestServer(t, "", failingClassifier{}, readable)

	for i := 0; i < 2; i++ {
		rr := srv.do(keyed(uploadRequest(t, "+393330000022", "file", "a.png", "image/png", []byte("png")), "flaky"))
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("attempt %d status = %d, want 500", i, rr.Code)
		}
	}
	acc, _ := srv.store.GetAccount(context.Background(), "+393330000022")
	if acc.Balance != 1 {
		t.Errorf("balance = %d, want 1", acc.Balance)
	}
}

func TestAnalyzeEndpointRejections(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
	}{
		{"missing file", func(t *testing.T) *http.Request {
			return uploadRequest(t, "+393330000001", "", "", "", nil)
		}},
		{"missing phone", func(t *testing.T) *http.Request {
			return uploadRequest(t, "", "file", "a.png", "image/png", []byte("png"))
		}},
		{"unsupported type", func(t *testing.T) *http.Request {
			return uploadRequest(t, "+393330000001", "file", "a.gif", "image/gif", []byte("gif"))
		}},
		{"too large", func(t *testing.T) *http.Request {
			return uploadRequest(t, "+393330000001", "file", "a.png", "image/png", bytes.Repeat([]byte("x"), 2<<10))
		}},
		{"not multipart", func(t *testing.T) *http.Request {
			return httptest.NewRequest("POST", "/api/v1/analyze", strings.NewReader("{}"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, "", nil, readable)
			rr := srv.do(tt.req(t))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
			}
			if len(srv.store.Snapshot()) != 0 {
				t.Error("rejected upload created an account")
			}
		})
	}
}

func TestAnalyzeEndpointClassifierFailure(t *testing.T) {
	srv := newTestServer(t, "", failingClassifier{}, readable)

	rr := srv.do(uploadRequest(t, "+393330000002", "file", "a.png", "image/png", []byte("png")))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := decode[map[string]string](t, rr)["error"]; got != "Internal Server Error" {
		t.Errorf("error = %q", got)
	}
	acc, _ := srv.store.GetAccount(context.Background(), "+393330000002")
	if acc.Balance != 1 {
		t.Errorf("balance = %d, want 1", acc.Balance)
	}
}

func TestAnalyzeEndpointUnreadable(t *testing.T) {
	srv := newTestServer(t, "", nil, extract.Outcome{Status: extract.StatusQualityRejected, Source: extract.SourceImageOCR})

	rr := srv.do(uploadRequest(t, "+393330000003", "file", "a.png", "image/png", []byte("png")))
	resp := decode[models.AnalyzeResponse](t, rr)
	if rr.Code != http.StatusOK || resp.OK || resp.Message != service.UnreadableImageMessage || resp.Credits != 1 {
		t.Errorf("status %d, response %+v", rr.Code, resp)
	}
}

func TestGetCredits(t *testing.T) {
	srv := newTestServer(t, "", nil, readable)

	rr := srv.do(httptest.NewRequest("GET", "/api/v1/credits?phone=0039%20333%200000004", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decode[models.CreditsResponse](t, rr)
	if resp.Phone != "+393330000004" || resp.Credits != 1 {
		t.Errorf("response = %+v", resp)
	}

	rr = srv.do(httptest.NewRequest("GET", "/api/v1/credits", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing phone status = %d", rr.Code)
	}
}

func adminRequest(method, target, key, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if key != "" {
		req.Header.Set(AdminKeyHeader, key)
	}
	return req
}

func TestTopUpEndpoint(t *testing.T) {
	t.Run("key not configured", func(t *testing.T) {
		srv := newTestServer(t, "", nil, readable)
		rr := srv.do(adminRequest("POST", "/api/v1/admin/topup", "whatever", `{"phone":"+393330000005","amount":5}`))
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", rr.Code)
		}
		if got := decode[map[string]string](t, rr)["error"]; got != "Admin key not configured" {
			t.Errorf("error = %q", got)
		}
	})

	srv := newTestServer(t, "k3y", nil, readable)

	rr := srv.do(adminRequest("POST", "/api/v1/admin/topup", "wrong", `{"phone":"+393330000005","amount":5}`))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d", rr.Code)
	}
	rr = srv.do(adminRequest("POST", "/api/v1/admin/topup", "k3y", `{"phone":"+393330000005","amount":0}`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("zero amount status = %d", rr.Code)
	}
	rr = srv.do(adminRequest("POST", "/api/v1/admin/topup", "k3y", `{"phone":"","amount":3}`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty phone status = %d", rr.Code)
	}
	rr = srv.do(adminRequest("POST", "/api/v1/admin/topup", "k3y", `not json`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d", rr.Code)
	}
	if len(srv.store.Snapshot()) != 0 {
		t.Error("rejected grants created accounts")
	}

	rr = srv.do(adminRequest("POST", "/api/v1/admin/topup", "k3y", `{"phone":"333 000 0005","amount":5,"reason":"partner_code"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if resp := decode[models.CreditsResponse](t, rr); resp.Credits != 6 {
		t.Errorf("credits = %d, want 6", resp.Credits)
	}

	rr = srv.do(adminRequest("GET", "/api/v1/accounts/+393330000005/entries", "k3y", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("entries status = %d", rr.Code)
	}
	entries := decode[models.EntriesResponse](t, rr)
	if len(entries.Entries) != 2 || entries.Entries[1].Reason != "partner_code" || entries.Entries[1].Delta != 5 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestBlockEndpoint(t *testing.T) {
	srv := newTestServer(t, "k3y", nil, readable)

	rr := srv.do(adminRequest("POST", "/api/v1/admin/block", "k3y", `{"phone":"+393330000006","blocked":true}`))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown account status = %d", rr.Code)
	}

	srv.do(httptest.NewRequest("GET", "/api/v1/credits?phone=%2B393330000006", nil))
	rr = srv.do(adminRequest("POST", "/api/v1/admin/block", "k3y", `{"phone":"+393330000006","blocked":true}`))
	if rr.Code != http.StatusOK || !decode[models.CreditsResponse](t, rr).Blocked {
		t.Fatalf("block status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = srv.do(uploadRequest(t, "+393330000006", "file", "a.png", "image/png", []byte("png")))
	resp := decode[models.AnalyzeResponse](t, rr)
	if resp.OK || resp.Message != service.BlockedMessage {
		t.Errorf("response = %+v", resp)
	}
}

func TestGetRequestEndpoint(t *testing.T) {
	srv := newTestServer(t, "k3y", nil, readable)

	rr := srv.do(uploadRequest(t, "+393330000007", "file", "a.png", "image/png", []byte("png")))
	id := decode[models.AnalyzeResponse](t, rr).RequestID

	rr = srv.do(adminRequest("GET", "/api/v1/requests/"+id, "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d", rr.Code)
	}
	rr = srv.do(adminRequest("GET", "/api/v1/requests/"+id, "k3y", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	req := decode[domain.Request](t, rr)
	if req.Status != domain.RequestSent || req.Cost != 1 || req.Result == nil {
		t.Errorf("request = %+v", req)
	}

	rr = srv.do(adminRequest("GET", "/api/v1/requests/bogus", "k3y", ""))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bogus id status = %d", rr.Code)
	}
	rr = srv.do(adminRequest("GET", "/api/v1/requests/"+domain.NewRequestID(), "k3y", ""))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d", rr.Code)
	}
}

func TestHealthAndRoot(t *testing.T) {
	srv := newTestServer(t, "", nil, readable)
	for _, path := range []string{"/", "/health"} {
		rr := srv.do(httptest.NewRequest("GET", path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rr.Code)
		}
	}
}
