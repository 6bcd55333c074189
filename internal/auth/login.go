package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"os"
	"strings"
)

// LoginRequest represents the login request body
type LoginRequest struct {
	Tenant   string `json:"tenant"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// LoginResponse represents the successful login response
type LoginResponse struct {
	Token  string `json:"token"`
	User   string `json:"user"`
	Tenant string `json:"tenant"`
	Role   string `json:"role"`
}

type account struct {
	user     string
	password string
	tenant   string
	role     string
}

// loadAccounts parses API_USERS, a comma-separated list of
// user:password:tenant[:role] entries.
func loadAccounts() []account {
	raw := os.Getenv("API_USERS")
	if raw == "" {
		return nil
	}
	var accounts []account
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 3 {
			continue
		}
		a := account{user: parts[0], password: parts[1], tenant: parts[2], role: "operator"}
		if len(parts) > 3 {
			a.role = parts[3]
		}
		accounts = append(accounts, a)
	}
	return accounts
}

// LoginHandler authenticates an operator and issues a tenant-scoped
// token.
func LoginHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Tenant == "" || req.User == "" || req.Password == "" {
		http.Error(w, `{"error":"tenant, user and password are required"}`, http.StatusBadRequest)
		return
	}

	var matched *account
	for _, a := range loadAccounts() {
		if a.user == req.User && a.tenant == req.Tenant &&
			subtle.ConstantTimeCompare([]byte(a.password), []byte(req.Password)) == 1 {
			matched = &a
			break
		}
	}
	if matched == nil {
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	token, err := GenerateToken(matched.user, matched.tenant, matched.role)
	if err != nil {
		http.Error(w, `{"error":"failed to generate token"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(LoginResponse{
		Token:  token,
		User:   matched.user,
		Tenant: matched.tenant,
		Role:   matched.role,
	})
}
