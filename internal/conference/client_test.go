package conference

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestClient(baseURL string) *Client {
	return NewClient(ClientConfig{
		BaseURL:     baseURL,
		Secret:      "s3cret",
		CallbackURL: "https://api.example.org",
		LogoutURL:   "https://app.example.org/bye",
		Welcome:     "hello",
	})
}

func TestSignedURLChecksum(t *testing.T) {
	c := newTestClient("https://bbb.example.org")
	params := url.Values{}
	params.Set("meetingID", "abc")
	params.Set("name", "Session")

	got := c.SignedURL("create", params)

	encoded := params.Encode()
	sum := sha1.Sum([]byte("create" + encoded + "s3cret"))
	want := "https://bbb.example.org/bigbluebutton/api/create?" + encoded +
		"&checksum=" + hex.EncodeToString(sum[:])
	if got != want {
		t.Fatalf("SignedURL = %q, want %q", got, want)
	}
}

func TestCreateParsesCredentials(t *testing.T) {
	var seenPath, seenQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		seenQuery = r.URL.RawQuery
		w.Write([]byte(`<response><returncode>SUCCESS</returncode><attendeePW>ap</attendeePW><moderatorPW>mp</moderatorPW></response>`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	creds, err := c.Create(context.Background(), "meet-1", "Session")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if creds.AttendeePW != "ap" || creds.ModeratorPW != "mp" {
		t.Fatalf("creds = %+v", creds)
	}
	if seenPath != "/bigbluebutton/api/create" {
		t.Fatalf("path = %q", seenPath)
	}
	if !strings.Contains(seenQuery, "checksum=") {
		t.Fatalf("query missing checksum: %q", seenQuery)
	}
	if !strings.Contains(seenQuery, url.QueryEscape("https://api.example.org/v1/meetings/meet-1/end-callback")) {
		t.Fatalf("query missing end callback: %q", seenQuery)
	}
}

func TestCreateFailedReturncodeIsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<response><returncode>FAILED</returncode><messageKey>checksumError</messageKey><message>bad checksum</message></response>`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Create(context.Background(), "meet-1", "Session")
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("err = %v, want ErrRemote", err)
	}
}

func TestCreateNon200IsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Create(context.Background(), "meet-1", "Session")
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("err = %v, want ErrRemote", err)
	}
}

func TestCreateMalformedBodyIsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not xml at all"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Create(context.Background(), "meet-1", "Session")
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("err = %v, want ErrRemote", err)
	}
}

func TestJoinURLCarriesRedirectAndPassword(t *testing.T) {
	c := newTestClient("https://bbb.example.org")
	link := c.JoinURL("meet-1", "ada", 42, "pw")

	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse join url: %v", err)
	}
	qs := u.Query()
	if qs.Get("fullName") != "ada" || qs.Get("userID") != "42" ||
		qs.Get("password") != "pw" || qs.Get("redirect") != "true" {
		t.Fatalf("join url params = %v", qs)
	}
	if qs.Get("checksum") == "" {
		t.Fatal("join url missing checksum")
	}
}
