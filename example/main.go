// An example server that can be used to send push notifications.
//
// - A VAPID key is generated on first startup and cached in .vapid.key. In real
//   use generate this key once and load it at application startup. Remember to
//   securely store it.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/daaku/pushkit"
	"github.com/joho/godotenv"
)

// In real use, this should be generated once and stored in config.
// Here for the example we generate and cache it.
// A change in the VAPID key invalidates all your existing subscriptions.
func vapidKey() (*pushkit.Key, error) {
	const vapidKeyCache = ".vapid.key"
	if b, err := os.ReadFile(vapidKeyCache); err == nil {
		return pushkit.ParseKey(string(b))
	}
	key, err := pushkit.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(vapidKeyCache, []byte(key.String()), 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

func run() error {
	// Optional .env with VAPID_CONTACT / TLS_CERT_FILE / TLS_KEY_FILE.
	_ = godotenv.Load()

	key, err := vapidKey()
	if err != nil {
		return err
	}

	contactStr := os.Getenv("VAPID_CONTACT")
	if contactStr == "" {
		contactStr = "https://github.com/daaku/pushkit"
	}
	contact, err := pushkit.ParseContact(contactStr)
	if err != nil {
		return err
	}

	config, err := pushkit.NewConfiguration(key, nil, nil, contact)
	if err != nil {
		return err
	}
	manager := pushkit.NewManager(config, nil, slog.Default())
	defer manager.Shutdown(context.Background())

	var mux http.ServeMux

	// serve some static files
	files := []string{
		"icon.png",
		"service-worker.js",
		"main.js",
		"app.webmanifest",
	}
	for _, filename := range files {
		mux.HandleFunc("/"+filename, func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, filename)
		})
	}

	// index page including the VAPID key ID used by the JavaScript
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, indexHTML, config.NextKeyID())
	})

	// schedule push notification to the given subscription
	mux.HandleFunc("/push", func(w http.ResponseWriter, r *http.Request) {
		rawJSON, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, err)
			return
		}
		fmt.Fprintf(os.Stderr, "%s\n", rawJSON)

		sub, err := pushkit.ParseSubscription(rawJSON)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, err)
			return
		}
		if sub.KeyID == "" {
			sub.KeyID = config.NextKeyID()
		}
		go func() {
			time.Sleep(5 * time.Second)
			n := &pushkit.Notification{
				Title:    "Test push from PushKit Example",
				Navigate: "https://github.com/daaku/pushkit",
			}
			err := manager.SendNotification(context.Background(), n, sub, &pushkit.SendOptions{
				Expiration: time.Hour,
			})
			if err != nil {
				fmt.Fprintln(os.Stderr, "pushkit.SendNotification error:", err)
			}
		}()
	})

	port := "8080"
	server := &http.Server{
		Handler: &mux,
		Addr:    ":" + port,
	}

	certFile, keyFile := os.Getenv("TLS_CERT_FILE"), os.Getenv("TLS_KEY_FILE")
	if certFile != "" {
		fmt.Println("Serving on https://127.0.0.1:" + port)
		return server.ListenAndServeTLS(certFile, keyFile)
	} else {
		fmt.Println("Serving on http://127.0.0.1:" + port)
		return server.ListenAndServe()
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

const indexHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>PushKit Example</title>
  <link rel="manifest" href="/app.webmanifest">
  <meta name="apple-mobile-web-app-status-bar-style" content="black-translucent">
  <link rel="icon" type="image/png" href="/icon.png">
  <link rel="apple-touch-icon" type="image/png" href="/icon.png">
  <meta data-vapid-public-key="%s">
  <style>
  .status {
    margin-block: 1rem;
  }
  #msg {
    font-family: monospace;
  }
  .push-unavailable {
    #controls {
      display: none;
    }
    #msg::after {
      color: lightcoral;
      font-weight: bold;
      content: "Push Unavailable. For iOS add the app to the home screen."
    }
  }
  .push-granted .status::after {
    color: lightseagreen;
    content: "Push Permission Granted."
  }
  </style>
</head>
<body>
  <h1>PushKit Example</h1>
  <div id="controls">
    <button id="send-push">Subscribe &amp; Schedule Push</button>
    <button id="unsubscribe">Unsubscribe</button>
  </div>
  <div class="status"></div>
  <div id="msg"></div>
  <script src="/main.js"></script>
</body>
</html>
`
