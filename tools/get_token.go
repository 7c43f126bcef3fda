package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
)

// Interactive helper that walks the OAuth2 consent flow and prints the
// refresh token to store on the user row. The scanner only reads mail, so
// only the readonly scope is requested.
func main() {
	clientID := os.Getenv("GMAIL_CLIENT_ID")
	clientSecret := os.Getenv("GMAIL_CLIENT_SECRET")

	if clientID == "" || clientSecret == "" {
		log.Fatal("Please set GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET environment variables")
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
		RedirectURL:  "http://localhost:8080/callback",
	}

	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser: %v\n", authURL)
	fmt.Println("\nAfter authorization, you'll be redirected to a URL. Copy the 'code' parameter from that URL.")

	var authCode string
	fmt.Print("\nEnter the authorization code: ")
	fmt.Scan(&authCode)

	tok, err := config.Exchange(context.Background(), authCode)
	if err != nil {
		log.Fatalf("Unable to retrieve token from web: %v", err)
	}

	fmt.Printf("\nRefresh Token: %s\n", tok.RefreshToken)
	fmt.Printf("Expiry: %v\n", tok.Expiry)

	fmt.Println("\nStore the refresh token on the user's row; the scanner uses it for mailbox access.")
}
