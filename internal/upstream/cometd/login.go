package cometd

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/moroshma/AssetRelay/internal/upstream"
)

// Session is the result of a successful partner login
type Session struct {
	ID             string
	InstanceURL    string
	UserID         string
	OrganizationID string
}

const loginEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<se:Envelope xmlns:se="http://schemas.xmlsoap.org/soap/envelope/">
<se:Header/>
<se:Body>
<login xmlns="urn:partner.soap.sforce.com">
<username>%s</username>
<password>%s</password>
</login>
</se:Body>
</se:Envelope>`

type loginResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Response struct {
			Result struct {
				ServerURL string `xml:"serverUrl"`
				SessionID string `xml:"sessionId"`
				UserID    string `xml:"userId"`
				UserInfo  struct {
					OrganizationID string `xml:"organizationId"`
				} `xml:"userInfo"`
			} `xml:"result"`
		} `xml:"loginResponse"`
		Fault *soapFault `xml:"Fault"`
	} `xml:"Body"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

func escapeXML(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// login performs the SOAP partner login against loginURL
func login(ctx context.Context, client *http.Client, loginURL, apiVersion, username, password string) (*Session, error) {
	endpoint := strings.TrimRight(loginURL, "/") + "/services/Soap/u/" + apiVersion
	body := fmt.Sprintf(loginEnvelope, escapeXML(username), escapeXML(password))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "login")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read login response: %w", err)
	}

	var parsed loginResponse
	if err := xml.NewDecoder(bytes.NewReader(raw)).Decode(&parsed); err != nil {
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("login endpoint returned %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to decode login response (status %d): %w", resp.StatusCode, err)
	}

	if f := parsed.Body.Fault; f != nil {
		return nil, fmt.Errorf("%w: %s: %s", upstream.ErrAuthentication, f.Code, f.String)
	}

	result := parsed.Body.Response.Result
	if result.SessionID == "" || result.ServerURL == "" {
		return nil, fmt.Errorf("%w: login response without session", upstream.ErrAuthentication)
	}

	server, err := url.Parse(result.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", result.ServerURL, err)
	}

	return &Session{
		ID:             result.SessionID,
		InstanceURL:    server.Scheme + "://" + server.Host,
		UserID:         result.UserID,
		OrganizationID: result.UserInfo.OrganizationID,
	}, nil
}
