// Package conference talks to the external BigBlueButton-compatible
// conferencing service and guards meeting provisioning so that
// concurrent callers never create the same remote session twice.
package conference

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrRemote is returned when the conferencing service answers with a
// non-200 status, a malformed body or a FAILED returncode.  The local
// meeting state stays consistent ("not established") and the whole
// call may be retried later; the client never schedules a retry of
// its own.
var ErrRemote = errors.New("remote provisioning failed")

// ErrNotEstablished is returned when join, end or info is requested on
// a meeting that lacks the required established state.
var ErrNotEstablished = errors.New("meeting not established")

// ClientConfig carries the connection parameters of the conferencing
// service as loaded from the environment.
type ClientConfig struct {
	BaseURL     string // e.g. https://bbb.example.org
	Secret      string // shared secret used in the checksum signature
	CallbackURL string // public base URL of this service for end-of-call callbacks
	LogoutURL   string // where participants land after leaving
	Welcome     string // welcome text shown inside the session
}

// Client issues signed HTTP GET calls against the conferencing API.
// Every call carries a checksum parameter computed as
// sha1(callName + encodedQuery + secret), which the remote side
// verifies bit for bit.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient builds a Client with a bounded request timeout so a hung
// remote call can never stall provisioning indefinitely.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// SignedURL builds the full API URL for a call, appending the checksum
// over the canonical (sorted) query encoding.  The same encoding is
// used for the hash and the final URL, which is what the remote
// verification requires.
func (c *Client) SignedURL(call string, params url.Values) string {
	encoded := params.Encode()
	sum := sha1.Sum([]byte(call + encoded + c.cfg.Secret))
	return c.cfg.BaseURL + "/bigbluebutton/api/" + call + "?" + encoded +
		"&checksum=" + hex.EncodeToString(sum[:])
}

type apiResponse struct {
	XMLName     xml.Name `xml:"response"`
	ReturnCode  string   `xml:"returncode"`
	AttendeePW  string   `xml:"attendeePW"`
	ModeratorPW string   `xml:"moderatorPW"`
	MessageKey  string   `xml:"messageKey"`
	Message     string   `xml:"message"`
}

func (c *Client) get(ctx context.Context, call string, params url.Values) (apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SignedURL(call, params), nil)
	if err != nil {
		return apiResponse{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apiResponse{}, fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiResponse{}, fmt.Errorf("%w: read body: %v", ErrRemote, err)
	}
	if resp.StatusCode != http.StatusOK {
		return apiResponse{}, fmt.Errorf("%w: status %d", ErrRemote, resp.StatusCode)
	}
	var parsed apiResponse
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return apiResponse{}, fmt.Errorf("%w: malformed response: %v", ErrRemote, err)
	}
	if parsed.ReturnCode != "SUCCESS" {
		return apiResponse{}, fmt.Errorf("%w: %s %s", ErrRemote, parsed.MessageKey, parsed.Message)
	}
	return parsed, nil
}

// Credentials are the per-meeting secrets returned by a successful
// create call.
type Credentials struct {
	AttendeePW  string
	ModeratorPW string
}

// Create provisions the remote session for a meeting id and returns
// its credentials.  The meta_endCallbackURL parameter makes the remote
// side call back when the session ends.
func (c *Client) Create(ctx context.Context, meetingID, name string) (Credentials, error) {
	params := url.Values{}
	params.Set("name", name)
	params.Set("meetingID", meetingID)
	params.Set("meta_endCallbackUrl", c.cfg.CallbackURL+"/v1/meetings/"+meetingID+"/end-callback")
	params.Set("logoutURL", c.cfg.LogoutURL)
	params.Set("welcome", c.cfg.Welcome)
	resp, err := c.get(ctx, "create", params)
	if err != nil {
		return Credentials{}, err
	}
	if resp.AttendeePW == "" || resp.ModeratorPW == "" {
		return Credentials{}, fmt.Errorf("%w: create response missing credentials", ErrRemote)
	}
	return Credentials{AttendeePW: resp.AttendeePW, ModeratorPW: resp.ModeratorPW}, nil
}

// End terminates the remote session using the moderator credential.
func (c *Client) End(ctx context.Context, meetingID, moderatorPW string) error {
	params := url.Values{}
	params.Set("meetingID", meetingID)
	params.Set("password", moderatorPW)
	_, err := c.get(ctx, "end", params)
	return err
}

// JoinURL builds the signed redirect URL a member follows into the
// session.  No network call is made; the URL itself is the credential.
func (c *Client) JoinURL(meetingID, fullName string, userID uint64, password string) string {
	params := url.Values{}
	params.Set("fullName", fullName)
	params.Set("userID", fmt.Sprintf("%d", userID))
	params.Set("redirect", "true")
	params.Set("meetingID", meetingID)
	params.Set("password", password)
	return c.SignedURL("join", params)
}

// MeetingInfo fetches the remote status blob for a meeting.  The body
// is passed through untouched; callers that need details parse it
// themselves.
func (c *Client) MeetingInfo(ctx context.Context, meetingID string) ([]byte, error) {
	params := url.Values{}
	params.Set("meetingID", meetingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SignedURL("getMeetingInfo", params), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRemote, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
