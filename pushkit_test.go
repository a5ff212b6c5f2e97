package pushkit

import (
	"fmt"
	"net/http"
)

var (
	validVapidKey      = must(ParseKey("Npnu7ulDI0A5nvDXgrEreznX809sYVuIqEh7AXG2oOk"))
	validEndpoint      = "https://the.push.server/capability-url"
	validOrigin        = "https://the.push.server"
	validP256dh        = "BOaRpSCtjsB92YouZnj8iNgCdFDNVNbid40AGxLcR47DI1S-zQkYf1CDG2G4y9GXeg74-8U_mEMzSZc-mRF_X0Y"
	validAuth          = "RW2wUiDEKNzSyDxlg7ArbQ"
	validContact       = must(ContactURL("https://app.server/"))
	validMailtoContact = must(ContactEmail("admin@app.server"))
)

func must[T any](v T, err error) T {
	if err == nil {
		return v
	}
	panic(fmt.Sprintf("error: %+v", err))
}

func validSubscriber(id KeyID) *Subscriber {
	return &Subscriber{
		Endpoint: validEndpoint,
		Keys:     must(ParseUserAgentKeys(validP256dh, validAuth)),
		KeyID:    id,
	}
}

type transportFunc func(*http.Request) (*http.Response, error)

func (f transportFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
