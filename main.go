package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mailpilot/mailpilot/internal/auth"
	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/dispatch"
	"github.com/mailpilot/mailpilot/internal/events"
	"github.com/mailpilot/mailpilot/internal/outbox"
	"github.com/mailpilot/mailpilot/internal/poller"
	"github.com/mailpilot/mailpilot/internal/providers/gmail"
	"github.com/mailpilot/mailpilot/internal/providers/outlook"
	"github.com/mailpilot/mailpilot/internal/providers/smtp"
	"github.com/mailpilot/mailpilot/internal/tokenstore"
)

const stateCookie = "oauth_state"

type ScheduleRequest struct {
	To            string `json:"to" binding:"required"`
	Subject       string `json:"subject" binding:"required"`
	Body          string `json:"body" binding:"required"`
	ScheduledTime string `json:"scheduled_time" binding:"required"`
}

func main() {
	cfg := config.Load()

	tokens, err := tokenstore.Open(cfg.DataDir)
	if err != nil {
		log.Fatal(err)
	}
	defer tokens.Close()

	emails, err := outbox.Open(filepath.Join(cfg.DataDir, "scheduled.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer emails.Close()

	oauth := auth.NewGoogleOAuth(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI)
	refresher := auth.NewRefresher(cfg.GoogleClientID, cfg.GoogleClientSecret, tokens)

	verifier, err := auth.NewIDTokenVerifier(cfg.GoogleClientID)
	if err != nil {
		log.Fatal(err)
	}

	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		publisher, err = events.NewPublisher(cfg.NATSURL)
		if err != nil {
			log.Fatal(err)
		}
		defer publisher.Close()
		if err := publisher.EnsureStream(context.Background()); err != nil {
			log.Fatal(err)
		}
	}

	dispatcher := &dispatch.Dispatcher{
		Store:     emails,
		Sender:    newSender(cfg),
		SendDelay: cfg.SendDelay,
	}
	if publisher != nil {
		dispatcher.Events = publisher
	}

	p := poller.New(tokens, refresher, dispatcher, cfg.PollInterval)
	p.Start(context.Background())
	defer p.Stop()

	jwtSecret := []byte(cfg.SessionSecret)

	r := gin.Default()

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":   "mailpilot",
			"login_url": "/login",
		})
	})

	// Start the Google OAuth flow.
	r.GET("/login", func(c *gin.Context) {
		state := uuid.NewString()
		c.SetCookie(stateCookie, state, 300, "/", "", false, true)
		c.Redirect(http.StatusFound, oauth.AuthURL(state))
	})

	// OAuth callback: exchange the code, verify the id token to learn which
	// mailbox authorized us, persist the credential, hand back a session JWT.
	r.GET("/auth/callback", func(c *gin.Context) {
		state, err := c.Cookie(stateCookie)
		if err != nil || state == "" || state != c.Query("state") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "state mismatch"})
			return
		}

		code := c.Query("code")
		if code == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing authorization code"})
			return
		}

		token, idToken, err := oauth.Exchange(c.Request.Context(), code)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		email, err := verifier.VerifyEmail(idToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		expiresAt := token.Expiry.Unix()
		if token.Expiry.IsZero() {
			expiresAt = time.Now().Add(time.Hour).Unix()
		}
		if err := tokens.Upsert(c.Request.Context(), email, token.AccessToken, token.RefreshToken, expiresAt); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		// Generate session JWT
		session := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"email": email,
			"exp":   time.Now().Add(time.Hour * 24).Unix(),
		})
		sessionToken, err := session.SignedString(jwtSecret)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"email": email,
			"token": sessionToken,
		})
	})

	// Protected routes
	authorized := r.Group("/")
	authorized.Use(authMiddleware(jwtSecret))

	// Schedule an email for later delivery. The owner is always the
	// authenticated mailbox; a repeated owner+subject pair is refused.
	authorized.POST("/emails/schedule", func(c *gin.Context) {
		var req ScheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sendTime, err := time.Parse(time.RFC3339, req.ScheduledTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_time must be RFC 3339"})
			return
		}

		email := outbox.ScheduledEmail{
			To:            req.To,
			From:          c.GetString("email"),
			Subject:       req.Subject,
			Body:          req.Body,
			ScheduledTime: sendTime,
		}

		id, accepted, err := emails.Schedule(c.Request.Context(), email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !accepted {
			c.JSON(http.StatusConflict, gin.H{
				"accepted": false,
				"status":   fmt.Sprintf("an email with subject %q is already scheduled for %s", req.Subject, email.From),
			})
			return
		}

		if publisher != nil {
			email.ID = id
			if err := publisher.EmailScheduled(email); err != nil {
				log.Printf("[api] failed to publish scheduled event for email %d: %v", id, err)
			}
		}

		c.JSON(http.StatusCreated, gin.H{"accepted": true, "id": id})
	})

	// List every scheduled email with its delivery status.
	authorized.GET("/emails/scheduled", func(c *gin.Context) {
		all, err := emails.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		now := time.Now().UTC()
		items := make([]gin.H, 0, len(all))
		for _, e := range all {
			status := "pending"
			if e.Sent {
				status = "sent"
			} else if e.Due(now) {
				status = "due"
			}
			items = append(items, gin.H{
				"id":             e.ID,
				"to":             e.To,
				"from":           e.From,
				"subject":        e.Subject,
				"scheduled_time": e.ScheduledTime.Format(time.RFC3339),
				"status":         status,
			})
		}
		c.JSON(http.StatusOK, gin.H{"emails": items, "total": len(items)})
	})

	// Dispatch due emails now instead of waiting for the next poll tick.
	authorized.POST("/emails/dispatch", func(c *gin.Context) {
		target := c.Query("email")
		if target == "" {
			target = c.GetString("email")
		}

		statuses, err := p.Flush(c.Request.Context(), target)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": statuses})
	})

	// List authenticated accounts and token health.
	authorized.GET("/accounts", func(c *gin.Context) {
		creds, err := tokens.LoadAll(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		now := time.Now()
		accounts := make([]gin.H, 0, len(creds))
		for _, cred := range creds {
			status := "active"
			remaining := cred.ExpiresAt - now.Unix()
			if cred.Expired(now) {
				status = "expired"
				remaining = 0
			}
			accounts = append(accounts, gin.H{
				"email":      cred.Email,
				"status":     status,
				"expires_at": cred.ExpiresAt,
				"expires_in": remaining,
			})
		}
		c.JSON(http.StatusOK, gin.H{"accounts": accounts})
	})

	log.Fatal(r.Run(fmt.Sprintf(":%d", cfg.HTTPPort)))
}

// newSender picks the outbound transport from config.
func newSender(cfg config.Config) dispatch.Sender {
	switch cfg.MailTransport {
	case "smtp":
		return smtp.New(cfg.SMTPAddr)
	case "outlook":
		return outlook.New()
	default:
		return gmail.New()
	}
}

func authMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.GetHeader("Authorization")
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return secret, nil
		})

		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
			email, _ := claims["email"].(string)
			if email == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				c.Abort()
				return
			}
			c.Set("email", email)
			c.Next()
		} else {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
	}
}
