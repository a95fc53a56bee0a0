package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
)

func main() {
	var (
		count   = flag.Int("count", 1, "number of tokens to generate")
		prefix  = flag.String("prefix", "load-user", "prefix for generated user IDs when count > 1")
		start   = flag.Int("start", 1, "starting index for generated user IDs when count > 1")
		name    = flag.String("name", "", "display name claim")
		picture = flag.String("picture", "", "avatar URL claim")
		ttl     = flag.Duration("ttl", time.Hour, "token lifetime")
		output  = flag.String("output", "", "file to write generated tokens as a JSON array")
	)
	flag.Parse()

	if *count < 1 {
		log.Fatal("count must be at least 1")
	}
	if *start < 1 {
		log.Fatal("start index must be at least 1")
	}
	args := flag.Args()
	if len(args) > 0 && *count > 1 {
		log.Fatal("explicit user ID cannot be provided when generating multiple tokens")
	}

	secret, err := sharedSecret()
	if err != nil {
		log.Fatal(err)
	}

	tokens := make([]string, *count)
	for i := range tokens {
		userID := *prefix
		switch {
		case len(args) > 0:
			userID = args[0]
		case *count > 1:
			userID = fmt.Sprintf("%s-%d", *prefix, *start+i)
		}
		tok, err := mintToken(secret, userID, *name, *picture, *ttl)
		if err != nil {
			log.Fatalf("generate token: %v", err)
		}
		tokens[i] = tok
	}

	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

func sharedSecret() ([]byte, error) {
	for _, key := range []string{"LOCAL_AUTH_SHARED_SECRET", "TEST_JWT_SECRET"} {
		if v := os.Getenv(key); v != "" {
			return []byte(v), nil
		}
	}
	return nil, errors.New("LOCAL_AUTH_SHARED_SECRET or TEST_JWT_SECRET must be set")
}

// mintToken signs an HS256 token accepted by the server in shared-secret mode.
func mintToken(secret []byte, userID, name, picture string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if name != "" {
		claims["name"] = name
	}
	if picture != "" {
		claims["picture"] = picture
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
