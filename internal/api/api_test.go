package api

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"database/sql"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/0xpr03/vtasync/internal/cryptowork"
	"github.com/0xpr03/vtasync/internal/db/migrations"
	"github.com/0xpr03/vtasync/internal/identity"
	"github.com/0xpr03/vtasync/internal/metrics"
	"github.com/0xpr03/vtasync/internal/session"
	"github.com/0xpr03/vtasync/internal/syncengine"
)

type testServer struct {
	router   *mux.Router
	serverID uuid.UUID
	db       *sql.DB
}

func newTestServer(t *testing.T) *testServer {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.NewMigrationManager(db, nil).Migrate())

	serverID := uuid.New()
	reg := identity.New(db, serverID, cryptowork.New(2))
	engine := syncengine.New(db)
	gate := session.New([]byte("test-secret-key-value-000000000"), false)

	h := NewHandler(db, reg, engine, gate, metrics.NewManager(), serverID)
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	return &testServer{router: router, serverID: serverID, db: db}
}

func genECKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return priv, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func signProof(t *testing.T, priv *ecdsa.PrivateKey, iss, sub, serverID string) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": iss, "sub": sub, "aud": serverID,
		"iat": jwt.NewNumericDate(now).Unix(),
		"exp": jwt.NewNumericDate(now.Add(time.Minute)).Unix(),
		"name": "alice",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(priv)
	require.NoError(t, err)
	return signed
}

func doJSON(t *testing.T, ts *testServer, method, path string, body any, cookies []*http.Cookie) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func TestServerInfo(t *testing.T) {
	ts := newTestServer(t)
	rr := doJSON(t, ts, http.MethodGet, "/api/v1/server/info", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp APIResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.True(t, resp.Success)
}

func TestRegisterLoginAndSyncFlow(t *testing.T) {
	ts := newTestServer(t)
	priv, pubPEM := genECKey(t)
	userUUID := uuid.New().String()

	registerProof := signProof(t, priv, userUUID, "register", ts.serverID.String())
	rr := doJSON(t, ts, http.MethodPost, "/api/v1/account/register/new", registerNewRequest{
		Key: pubPEM, KeyType: "EC_PEM", Proof: registerProof,
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	loginProof := signProof(t, priv, userUUID, "login", ts.serverID.String())
	rr = doJSON(t, ts, http.MethodPost, "/api/v1/account/login/key", loginKeyRequest{
		Iss: userUUID, Proof: loginProof,
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	cookies := rr.Result().Cookies()
	require.NotEmpty(t, cookies)

	rr = doJSON(t, ts, http.MethodGet, "/api/v1/account/info", nil, cookies)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var infoResp APIResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&infoResp))
	require.True(t, infoResp.Success)

	rr = doJSON(t, ts, http.MethodPost, "/api/v1/sync/lists/changed", listsChangedRequest{
		Lists: []listChangeWire{{UUID: "l1", Name: "n", NameA: "a", NameB: "b", Changed: 10, Created: 10}},
	}, cookies)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(t, ts, http.MethodPost, "/api/v1/lists/l1/share", shareGenerateRequest{
		Write: true, Deadline: time.Now().Add(time.Hour),
	}, cookies)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var shareResp struct {
		Success bool                  `json:"success"`
		Data    shareGenerateResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&shareResp))
	require.NotEmpty(t, shareResp.Data.TokenA)
}

func TestAccountInfo_RequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	rr := doJSON(t, ts, http.MethodGet, "/api/v1/account/info", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAccountInfo_HasPassword(t *testing.T) {
	ts := newTestServer(t)
	priv, pubPEM := genECKey(t)
	userUUID := uuid.New().String()

	registerProof := signProof(t, priv, userUUID, "register", ts.serverID.String())
	rr := doJSON(t, ts, http.MethodPost, "/api/v1/account/register/new", registerNewRequest{
		Key: pubPEM, KeyType: "EC_PEM", Proof: registerProof,
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	loginProof := signProof(t, priv, userUUID, "login", ts.serverID.String())
	rr = doJSON(t, ts, http.MethodPost, "/api/v1/account/login/key", loginKeyRequest{
		Iss: userUUID, Proof: loginProof,
	}, nil)
	cookies := rr.Result().Cookies()

	rr = doJSON(t, ts, http.MethodGet, "/api/v1/account/info", nil, cookies)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var infoResp struct {
		Success bool                `json:"success"`
		Data    accountInfoResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&infoResp))
	require.False(t, infoResp.Data.HasPassword)

	rr = doJSON(t, ts, http.MethodPost, "/api/v1/account/register/password", loginPasswordRequest{
		Email: "alice@example.com", Password: "hunter2",
	}, cookies)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(t, ts, http.MethodGet, "/api/v1/account/info", nil, cookies)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&infoResp))
	require.True(t, infoResp.Data.HasPassword)
}

func TestLockedAccount_RejectsAuthenticatedRequests(t *testing.T) {
	ts := newTestServer(t)
	priv, pubPEM := genECKey(t)
	userUUID := uuid.New().String()

	registerProof := signProof(t, priv, userUUID, "register", ts.serverID.String())
	rr := doJSON(t, ts, http.MethodPost, "/api/v1/account/register/new", registerNewRequest{
		Key: pubPEM, KeyType: "EC_PEM", Proof: registerProof,
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	loginProof := signProof(t, priv, userUUID, "login", ts.serverID.String())
	rr = doJSON(t, ts, http.MethodPost, "/api/v1/account/login/key", loginKeyRequest{
		Iss: userUUID, Proof: loginProof,
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	cookies := rr.Result().Cookies()

	_, err := ts.db.Exec(`UPDATE users SET locked_reason = 'fraud' WHERE uuid = ?`, userUUID)
	require.NoError(t, err)

	rr = doJSON(t, ts, http.MethodGet, "/api/v1/account/info", nil, cookies)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = doJSON(t, ts, http.MethodPost, "/api/v1/sync/lists/changed", listsChangedRequest{}, cookies)
	require.Equal(t, http.StatusForbidden, rr.Code)

	loginProof2 := signProof(t, priv, userUUID, "login", ts.serverID.String())
	rr = doJSON(t, ts, http.MethodPost, "/api/v1/account/login/key", loginKeyRequest{
		Iss: userUUID, Proof: loginProof2,
	}, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestLoginKey_UnknownUser(t *testing.T) {
	ts := newTestServer(t)
	priv, _ := genECKey(t)
	userUUID := uuid.New().String()
	proof := signProof(t, priv, userUUID, "login", ts.serverID.String())

	rr := doJSON(t, ts, http.MethodPost, "/api/v1/account/login/key", loginKeyRequest{Iss: userUUID, Proof: proof}, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
}
