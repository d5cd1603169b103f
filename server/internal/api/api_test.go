package api_test

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagedrop/imagedrop/server/internal/api"
	"github.com/imagedrop/imagedrop/server/internal/auth"
	"github.com/imagedrop/imagedrop/server/internal/metrics"
	"github.com/imagedrop/imagedrop/server/internal/tokens"
	"github.com/imagedrop/imagedrop/server/internal/upload"
)

const (
	goodToken   = "tok-alpha-123"
	otherToken  = "tok-beta-456"
	masterToken = "master-s3cret"
)

// --- test helpers -----------------------------------------------------------

type env struct {
	h         http.Handler
	root      string
	tokenFile string
	store     *tokens.Store
	metrics   *metrics.Registry
}

type options struct {
	master   string
	maxBytes int64
}

func newEnv(t *testing.T, opts options) *env {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "uploads")
	require.NoError(t, os.Mkdir(root, 0o755))

	tokenFile := filepath.Join(base, "tokens.txt")
	require.NoError(t, os.WriteFile(tokenFile, []byte("# clients\n"+goodToken+"\n"+otherToken+"\n"), 0o600))

	st := tokens.NewStore(tokenFile)
	_, err := st.Load()
	require.NoError(t, err)

	up, err := upload.New(root)
	require.NoError(t, err)

	reg := metrics.New()
	gate := auth.New(st, opts.master)
	gate.Observe = api.AuthObserver(reg, nil)

	h := api.New(api.Deps{
		Tokens:         st,
		Gate:           gate,
		Uploads:        up,
		Metrics:        reg,
		MaxUploadBytes: opts.maxBytes,
		Version:        "test",
	})
	return &env{h: h, root: root, tokenFile: tokenFile, store: st, metrics: reg}
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

// multipartBody builds an upload form. An empty fileName omits the image part.
func multipartBody(t *testing.T, fileName string, content []byte, savePath string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if fileName != "" {
		fw, err := mw.CreateFormFile("image", fileName)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	if savePath != "" {
		require.NoError(t, mw.WriteField("save_path", savePath))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *env) upload(t *testing.T, authz, fileName string, content []byte, savePath string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, fileName, content, savePath)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func (e *env) reload(t *testing.T, authz string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/admin/reload-tokens", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&m), "body: %s", rr.Body.String())
	return m
}

// --- /upload ----------------------------------------------------------------

func TestUpload_ValidPNG(t *testing.T) {
	e := newEnv(t, options{})
	img := pngImage(t)

	rr := e.upload(t, "Bearer "+goodToken, "avatar.png", img, "avatars/user1.png")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decode(t, rr)
	assert.Equal(t, "avatars/user1.png", resp["relative_path_reported"])
	assert.Equal(t, "image/png", resp["detected_type"])
	assert.Equal(t, float64(len(img)), resp["bytes"])

	got, err := os.ReadFile(filepath.Join(e.root, "avatars", "user1.png"))
	require.NoError(t, err)
	assert.Equal(t, img, got)
}

func TestUpload_BareTokenAccepted(t *testing.T) {
	e := newEnv(t, options{})
	rr := e.upload(t, otherToken, "a.png", pngImage(t), "a.png")
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestUpload_PathTraversal(t *testing.T) {
	e := newEnv(t, options{})
	cases := []string{
		"../../etc/evil.png",
		"a/../../evil.png",
		"%2e%2e/evil.png",
		"/etc/evil.png",
		`..\..\evil.png`,
		"../../etc/",
		"/etc/",
	}
	for _, sp := range cases {
		t.Run(sp, func(t *testing.T) {
			rr := e.upload(t, "Bearer "+goodToken, "evil.png", pngImage(t), sp)
			require.Equal(t, http.StatusForbidden, rr.Code, rr.Body.String())
			assert.Equal(t, "PATH_TRAVERSAL", decode(t, rr)["code"])
		})
	}

	entries, err := os.ReadDir(filepath.Dir(e.root))
	require.NoError(t, err)
	for _, ent := range entries {
		assert.NotEqual(t, "evil.png", ent.Name(), "file written outside the upload root")
	}
	_, err = os.Stat(filepath.Join(filepath.Dir(e.root), "etc"))
	assert.True(t, os.IsNotExist(err), "directory created outside the upload root")
}

func TestUpload_DisguisedText(t *testing.T) {
	e := newEnv(t, options{})
	rr := e.upload(t, "Bearer "+goodToken, "photo.png", []byte("just some text, not an image\n"), "photo.png")

	require.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decode(t, rr)
	assert.Equal(t, "UNSUPPORTED_TYPE", resp["code"])
	assert.Equal(t, "text/plain", resp["received_type"])

	_, err := os.Stat(filepath.Join(e.root, "photo.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestUpload_Presence(t *testing.T) {
	e := newEnv(t, options{})

	rr := e.upload(t, "Bearer "+goodToken, "", nil, "x.png")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "MISSING_FILE", decode(t, rr)["code"])

	rr = e.upload(t, "Bearer "+goodToken, "x.png", pngImage(t), "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "MISSING_DESTINATION", decode(t, rr)["code"])
}

func TestUpload_NotMultipart(t *testing.T) {
	e := newEnv(t, options{})
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(`{"image":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+goodToken)
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "MISSING_FILE", decode(t, rr)["code"])
}

func TestUpload_Auth(t *testing.T) {
	e := newEnv(t, options{})

	rr := e.upload(t, "", "a.png", pngImage(t), "a.png")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHENTICATED", decode(t, rr)["code"])

	rr = e.upload(t, "Bearer nope", "a.png", pngImage(t), "a.png")
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "FORBIDDEN", decode(t, rr)["code"])

	rr = e.upload(t, "Bearer "+strings.ToUpper(goodToken), "a.png", pngImage(t), "a.png")
	assert.Equal(t, http.StatusForbidden, rr.Code, "tokens are case-sensitive")

	_, err := os.Stat(filepath.Join(e.root, "a.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestUpload_EmptyAuthorizationHeader(t *testing.T) {
	e := newEnv(t, options{})
	body, ct := multipartBody(t, "a.png", pngImage(t), "a.png")
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header["Authorization"] = []string{""}
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHENTICATED", decode(t, rr)["code"])
}

func TestUpload_TooLarge(t *testing.T) {
	e := newEnv(t, options{maxBytes: 512})
	big := append(pngImage(t), bytes.Repeat([]byte{0}, 4096)...)

	rr := e.upload(t, "Bearer "+goodToken, "big.png", big, "big.png")
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, "TOO_LARGE", decode(t, rr)["code"])
}

func TestUpload_MethodNotAllowed(t *testing.T) {
	e := newEnv(t, options{})
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/upload", nil))

	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, http.MethodPost, rr.Header().Get("Allow"))
	assert.Equal(t, "METHOD_NOT_ALLOWED", decode(t, rr)["code"])
}

// --- /admin/reload-tokens ---------------------------------------------------

func TestReload_PlaceholderMasterAlwaysForbidden(t *testing.T) {
	for _, master := range []string{"", auth.DefaultMasterToken} {
		e := newEnv(t, options{master: master})
		for _, authz := range []string{"", "Bearer " + auth.DefaultMasterToken, auth.DefaultMasterToken, "Bearer " + goodToken} {
			rr := e.reload(t, authz)
			assert.Equal(t, http.StatusForbidden, rr.Code, "master=%q authz=%q", master, authz)
		}
	}
}

func TestReload_WrongMaster(t *testing.T) {
	e := newEnv(t, options{master: masterToken})
	rr := e.reload(t, "Bearer wrong")
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "FORBIDDEN", decode(t, rr)["code"])

	rr = e.reload(t, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestReload_ReplacesSetAndIsIdempotent(t *testing.T) {
	e := newEnv(t, options{master: masterToken})
	require.NoError(t, os.WriteFile(e.tokenFile, []byte("new-one\nnew-two\nnew-three\n"), 0o600))

	for i := 0; i < 2; i++ {
		rr := e.reload(t, "Bearer "+masterToken)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, float64(3), decode(t, rr)["total_tokens"])
	}

	rr := e.upload(t, "Bearer "+goodToken, "a.png", pngImage(t), "a.png")
	assert.Equal(t, http.StatusForbidden, rr.Code, "removed token must be rejected")

	rr = e.upload(t, "Bearer new-two", "a.png", pngImage(t), "a.png")
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestReload_MissingFileFailsClosed(t *testing.T) {
	e := newEnv(t, options{master: masterToken})
	require.NoError(t, os.Remove(e.tokenFile))

	rr := e.reload(t, "Bearer "+masterToken)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	resp := decode(t, rr)
	assert.Equal(t, "CONFIGURATION_FAULT", resp["code"])
	assert.Equal(t, float64(0), resp["total_tokens"])
	assert.Equal(t, 0, e.store.Len())

	rr = e.upload(t, "Bearer "+goodToken, "a.png", pngImage(t), "a.png")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

// --- /health, /metrics, misc ------------------------------------------------

func TestHealth(t *testing.T) {
	e := newEnv(t, options{})
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode(t, rr)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(2), resp["tokens_loaded"])
	assert.Equal(t, "test", resp["version"])
}

func TestMetrics_CountsAuthAndUploads(t *testing.T) {
	e := newEnv(t, options{})
	e.upload(t, "Bearer "+goodToken, "a.png", pngImage(t), "a.png")
	e.upload(t, "Bearer bad", "a.png", pngImage(t), "a.png")

	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, `imagedrop_auth_attempts_total{result="authenticated",scope="upload"} 1`)
	assert.Contains(t, body, `imagedrop_auth_attempts_total{result="forbidden",scope="upload"} 1`)
	assert.Contains(t, body, `imagedrop_uploads_total{code="OK"} 1`)
}

func TestRequestIDEchoed(t *testing.T) {
	e := newEnv(t, options{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-Id"))

	rr = httptest.NewRecorder()
	e.h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
}

func TestUnknownRoute(t *testing.T) {
	e := newEnv(t, options{})
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
