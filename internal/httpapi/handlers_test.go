package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"signalo.org/internal/audit"
	"signalo.org/internal/auth"
	"signalo.org/internal/notify"
	"signalo.org/internal/organizations"
	"signalo.org/internal/policy"
	"signalo.org/internal/reporting"
)

type testAPI struct {
	handler http.Handler
	orgs    *organizations.Service
	reports *reporting.Service
	users   *auth.InMemory
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	t.Setenv("SIGNALO_AUTH_SECRET", "handlers-test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	orgs, err := organizations.NewService(organizations.NewInMemory())
	if err != nil {
		t.Fatalf("organizations service: %v", err)
	}
	stream := notify.NewStream()
	t.Cleanup(stream.Close)
	reports, err := reporting.NewService(reporting.NewInMemory(), orgs, reporting.WithNotifier(stream))
	if err != nil {
		t.Fatalf("reporting service: %v", err)
	}
	users := auth.NewInMemory()

	api := New(Config{
		Version: "test",
		Reports: reports,
		Orgs:    orgs,
		Users:   users,
		Engine:  policy.NewEngine(),
		Stream:  stream,
		Trail:   audit.NewInMemory(),
	})
	return &testAPI{handler: api.Handler(), orgs: orgs, reports: reports, users: users}
}

func (ta *testAPI) seedOrg(t *testing.T, org *organizations.Organization) *organizations.Organization {
	t.Helper()
	if err := ta.orgs.CreateOrganization(t.Context(), org); err != nil {
		t.Fatalf("seed organization: %v", err)
	}
	return org
}

func (ta *testAPI) seedUser(t *testing.T, u *auth.User) (string, *auth.User) {
	t.Helper()
	if err := ta.users.Create(t.Context(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	token, err := auth.GenerateToken(u, time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token, u
}

func (ta *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func newReportBody() map[string]any {
	return map[string]any{
		"form_type":    reporting.FormEvaluationLocalHabitation,
		"priority":     "medium",
		"commune_code": "64445",
		"anomalies":    []string{"categorie"},
	}
}

func TestHealthzIsPublic(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/v1/reports", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	rec = ta.do(t, http.MethodGet, "/v1/reports", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want 401", rec.Code)
	}
}

func TestAuthTokenFlow(t *testing.T) {
	ta := newTestAPI(t)
	org := ta.seedOrg(t, &organizations.Organization{Kind: organizations.KindCollectivity, Name: "Pau"})
	hash, err := auth.HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	ta.seedUser(t, &auth.User{OrganizationID: org.ID, Email: "agent@pau.fr", PasswordHash: hash})

	rec := ta.do(t, http.MethodPost, "/v1/auth/token", "", map[string]any{
		"email":    "agent@pau.fr",
		"password": "s3cret-pass",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("expected a token in the response")
	}

	// The issued token must open protected routes.
	rec = ta.do(t, http.MethodGet, "/v1/reports", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list with issued token = %d, want 200", rec.Code)
	}

	rec = ta.do(t, http.MethodPost, "/v1/auth/token", "", map[string]any{
		"email":    "agent@pau.fr",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want 401", rec.Code)
	}
}

func TestCreateAndFetchReport(t *testing.T) {
	ta := newTestAPI(t)
	org := ta.seedOrg(t, &organizations.Organization{Kind: organizations.KindCollectivity, Name: "Pau"})
	token, _ := ta.seedUser(t, &auth.User{OrganizationID: org.ID, Email: "a@pau.fr"})

	rec := ta.do(t, http.MethodPost, "/v1/reports", token, newReportBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	if created["state"] != "draft" {
		t.Fatalf("state = %v, want draft", created["state"])
	}
	if created["collectivity_id"] != org.ID {
		t.Fatalf("collectivity_id = %v, want actor's organization", created["collectivity_id"])
	}

	id, _ := created["id"].(string)
	rec = ta.do(t, http.MethodGet, "/v1/reports/"+id, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
}

func TestPublisherSubmitsOnlyForItsCollectivities(t *testing.T) {
	ta := newTestAPI(t)
	publisher := ta.seedOrg(t, &organizations.Organization{Kind: organizations.KindPublisher, Name: "FPC"})
	linked := ta.seedOrg(t, &organizations.Organization{
		Kind:        organizations.KindCollectivity,
		Name:        "Pau",
		PublisherID: publisher.ID,
	})
	unlinked := ta.seedOrg(t, &organizations.Organization{Kind: organizations.KindCollectivity, Name: "Bayonne"})
	token, _ := ta.seedUser(t, &auth.User{OrganizationID: publisher.ID, Email: "api@fpc.fr"})

	body := newReportBody()
	body["collectivity_id"] = unlinked.ID
	rec := ta.do(t, http.MethodPost, "/v1/reports", token, body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unlinked collectivity status = %d, want 404", rec.Code)
	}

	body["collectivity_id"] = publisher.ID
	rec = ta.do(t, http.MethodPost, "/v1/reports", token, body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("non-collectivity target status = %d, want 404", rec.Code)
	}

	body["collectivity_id"] = linked.ID
	rec = ta.do(t, http.MethodPost, "/v1/reports", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("linked collectivity status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	if created["collectivity_id"] != linked.ID || created["publisher_id"] != publisher.ID {
		t.Fatalf("ownership = %v/%v, want %s/%s",
			created["collectivity_id"], created["publisher_id"], linked.ID, publisher.ID)
	}
}

func TestOutOfScopeReportLooksAbsent(t *testing.T) {
	ta := newTestAPI(t)
	owner := ta.seedOrg(t, &organizations.Organization{Kind: organizations.KindCollectivity, Name: "Pau"})
	other := ta.seedOrg(t, &organizations.Organization{Kind: organizations.KindCollectivity, Name: "Bayonne"})
	ownerToken, _ := ta.seedUser(t, &auth.User{OrganizationID: owner.ID, Email: "a@pau.fr"})
	otherToken, _ := ta.seedUser(t, &auth.User{OrganizationID: other.ID, Email: "b@bayonne.fr"})

	rec := ta.do(t, http.MethodPost, "/v1/reports", ownerToken, newReportBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	id, _ := decodeBody(t, rec)["id"].(string)

	rec = ta.do(t, http.MethodGet, "/v1/reports/"+id, otherToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign get status = %d, want 404", rec.Code)
	}

	rec = ta.do(t, http.MethodGet, "/v1/reports", otherToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("foreign list status = %d", rec.Code)
	}
	reports, _ := decodeBody(t, rec)["reports"].([]any)
	if len(reports) != 0 {
		t.Fatalf("foreign list returned %d reports, want 0", len(reports))
	}
}

func TestMarkReadyIncompleteReturns422(t *testing.T) {
	ta := newTestAPI(t)
	org := ta.seedOrg(t, &organizations.Organization{Kind: organizations.KindCollectivity, Name: "Pau"})
	token, _ := ta.seedUser(t, &auth.User{OrganizationID: org.ID, Email: "a@pau.fr"})

	rec := ta.do(t, http.MethodPost, "/v1/reports", token, newReportBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	id, _ := decodeBody(t, rec)["id"].(string)

	rec = ta.do(t, http.MethodPost, "/v1/reports/"+id+"/ready", token, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("ready status = %d, want 422", rec.Code)
	}
	missing, _ := decodeBody(t, rec)["missing"].([]any)
	if len(missing) == 0 {
		t.Fatal("expected the missing field names in the response")
	}
}

func TestCollectivityCannotReject(t *testing.T) {
	ta := newTestAPI(t)
	org := ta.seedOrg(t, &organizations.Organization{Kind: organizations.KindCollectivity, Name: "Pau"})
	token, _ := ta.seedUser(t, &auth.User{OrganizationID: org.ID, Email: "a@pau.fr"})

	rec := ta.do(t, http.MethodPost, "/v1/reports", token, newReportBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	id, _ := decodeBody(t, rec)["id"].(string)

	rec = ta.do(t, http.MethodPost, "/v1/reports/"+id+"/reject", token, map[string]any{"reason": "nope"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("reject status = %d, want 403", rec.Code)
	}
}

func TestUnknownJSONFieldRejected(t *testing.T) {
	ta := newTestAPI(t)
	org := ta.seedOrg(t, &organizations.Organization{Kind: organizations.KindCollectivity, Name: "Pau"})
	token, _ := ta.seedUser(t, &auth.User{OrganizationID: org.ID, Email: "a@pau.fr"})

	body := newReportBody()
	body["bogus"] = true
	rec := ta.do(t, http.MethodPost, "/v1/reports", token, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDiscardAndUndiscardDraft(t *testing.T) {
	ta := newTestAPI(t)
	org := ta.seedOrg(t, &organizations.Organization{Kind: organizations.KindCollectivity, Name: "Pau"})
	token, _ := ta.seedUser(t, &auth.User{OrganizationID: org.ID, Email: "a@pau.fr"})

	rec := ta.do(t, http.MethodPost, "/v1/reports", token, newReportBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	id, _ := decodeBody(t, rec)["id"].(string)

	rec = ta.do(t, http.MethodDelete, "/v1/reports/"+id, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("discard status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["discarded_at"]; got == nil {
		t.Fatal("expected discarded_at to be set")
	}

	rec = ta.do(t, http.MethodPost, "/v1/reports/"+id+"/undiscard", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("undiscard status = %d", rec.Code)
	}

	// Restoring a report that is not discarded is a state error.
	rec = ta.do(t, http.MethodPost, "/v1/reports/"+id+"/undiscard", token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second undiscard status = %d, want 409", rec.Code)
	}
}

func TestBulkAcceptSkipsForeignIDs(t *testing.T) {
	ta := newTestAPI(t)
	ddfip := ta.seedOrg(t, &organizations.Organization{
		Kind:           organizations.KindDDFIP,
		Name:           "DDFIP 64",
		DepartmentCode: "64",
	})
	token, _ := ta.seedUser(t, &auth.User{OrganizationID: ddfip.ID, Email: "d@ddfip64.fr", OrganizationAdmin: true})

	rec := ta.do(t, http.MethodPost, "/v1/reports/accept", token, map[string]any{
		"ids": []string{"does-not-exist"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk accept status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if applied, _ := body["applied"].(float64); applied != 0 {
		t.Fatalf("applied = %v, want 0", body["applied"])
	}
	if ignored, _ := body["ignored"].(float64); ignored != 1 {
		t.Fatalf("ignored = %v, want 1", body["ignored"])
	}
}

func TestAuditTrailRequiresDGFIP(t *testing.T) {
	ta := newTestAPI(t)
	coll := ta.seedOrg(t, &organizations.Organization{Kind: organizations.KindCollectivity, Name: "Pau"})
	dgfip := ta.seedOrg(t, &organizations.Organization{Kind: organizations.KindDGFIP, Name: "DGFIP"})
	collToken, _ := ta.seedUser(t, &auth.User{OrganizationID: coll.ID, Email: "a@pau.fr"})
	dgfipToken, _ := ta.seedUser(t, &auth.User{OrganizationID: dgfip.ID, Email: "central@dgfip.fr"})

	rec := ta.do(t, http.MethodGet, "/v1/audit", collToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("collectivity audit status = %d, want 403", rec.Code)
	}
	rec = ta.do(t, http.MethodGet, "/v1/audit", dgfipToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dgfip audit status = %d, want 200", rec.Code)
	}
}

func TestOrganizationManagementIsSuperAdminOnly(t *testing.T) {
	ta := newTestAPI(t)
	coll := ta.seedOrg(t, &organizations.Organization{Kind: organizations.KindCollectivity, Name: "Pau"})
	collToken, _ := ta.seedUser(t, &auth.User{OrganizationID: coll.ID, Email: "a@pau.fr"})
	superToken, _ := ta.seedUser(t, &auth.User{OrganizationID: coll.ID, Email: "root@signalo.fr", SuperAdmin: true})

	body := map[string]any{"kind": "ddfip", "name": "DDFIP 33", "department_code": "33"}
	rec := ta.do(t, http.MethodPost, "/v1/organizations", collToken, body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("regular user status = %d, want 403", rec.Code)
	}
	rec = ta.do(t, http.MethodPost, "/v1/organizations", superToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("super admin status = %d, body %s", rec.Code, rec.Body.String())
	}
}
