package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cloudfocus/tbilling_backend/billing"
	"github.com/cloudfocus/tbilling_backend/config"
	"github.com/cloudfocus/tbilling_backend/models"
	"github.com/cloudfocus/tbilling_backend/report"
	"github.com/cloudfocus/tbilling_backend/utils"
)

const defaultPort = "8080"

// invoiceSyncHandler is the "check-and-ingest this month" trigger: a no-op
// when an invoice already exists for the computed billing period.
func invoiceSyncHandler(cfg *config.BillingConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		fetcher, err := billing.NewS3FileFetcher(ctx, cfg)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		result, err := billing.CheckAndIngest(ctx, config.GetDB(), fetcher, cfg, time.Now().UTC())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		switch result.Status {
		case billing.IngestStatusAlreadyExists:
			c.JSON(http.StatusCreated, gin.H{"message": "Invoice already exists."})
		case billing.IngestStatusNoFiles:
			c.JSON(http.StatusCreated, gin.H{"message": "No CSV files found."})
		default:
			c.JSON(http.StatusCreated, gin.H{"invoices": result.Invoices})
		}
	}
}

type costSyncQuery struct {
	// Format YYYY-MM-DD; defaults to yesterday.
	StartDate string `form:"start_date" binding:"omitempty,datetime=2006-01-02"`
}

// costSyncHandler pulls Cost Explorer data from start_date through tomorrow
// and upserts it into the cost-management ledger. Always re-runs; upsert
// semantics make it safe to call repeatedly.
func costSyncHandler(cfg *config.BillingConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var query costSyncQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		startDate := time.Now().UTC().AddDate(0, 0, -1)
		if query.StartDate != "" {
			startDate, _ = time.Parse("2006-01-02", query.StartDate)
		}

		manager, err := report.NewManager(ctx, cfg)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rows, err := manager.GenerateBillingReport(ctx, startDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		processed, err := report.SyncCostManagement(ctx, config.GetDB(), rows)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "processed": processed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Success", "processed": processed})
	}
}

type inviteRequest struct {
	Email string `json:"email" binding:"omitempty,email"`
}

// inviteHandler invites an AWS account into the organization and records
// the invitation state on the account row.
func inviteHandler(cfg *config.BillingConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		accountId := c.Param("account_id")

		// Body is optional; without an email the invite targets the account id.
		var req inviteRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		manager, err := report.NewManager(ctx, cfg)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		invitation, err := report.RegisterAccountInvitation(ctx, config.GetDB(), manager, accountId, req.Email)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, invitation)
	}
}

// reportExportHandler generates the billing report and streams it back as a
// spreadsheet download.
func reportExportHandler(cfg *config.BillingConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var query costSyncQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		startDate := time.Now().UTC().AddDate(0, 0, -1)
		if query.StartDate != "" {
			startDate, _ = time.Parse("2006-01-02", query.StartDate)
		}

		manager, err := report.NewManager(ctx, cfg)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rows, err := manager.GenerateBillingReport(ctx, startDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		path := filepath.Join(os.TempDir(), fmt.Sprintf("billing-report-%d.xlsx", time.Now().UnixNano()))
		if err := report.ExportReportXLSX(rows, path); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer os.Remove(path)

		c.FileAttachment(path, "billing-report.xlsx")
	}
}

type costAlertsQuery struct {
	Threshold float64 `form:"threshold" binding:"omitempty,gt=0"`
}

const defaultAlertThreshold = 100.0

func costAlertsHandler(cfg *config.BillingConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var query costAlertsQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if query.Threshold == 0 {
			query.Threshold = defaultAlertThreshold
		}

		manager, err := report.NewManager(ctx, cfg)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		alerts, err := manager.GetAccountCostAlerts(ctx, query.Threshold)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"alerts": alerts})
	}
}

func pendingInvitationsHandler(cfg *config.BillingConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		manager, err := report.NewManager(ctx, cfg)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		handshakes, err := manager.ListPendingInvitations(ctx)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"invitations": handshakes})
	}
}

// invitationStatusHandler refreshes an invited account's handshake state.
func invitationStatusHandler(cfg *config.BillingConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		manager, err := report.NewManager(ctx, cfg)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		account, err := report.RefreshInvitationState(ctx, manager, c.Param("account_id"))
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"account_id":        account.AccountId,
			"invitation_status": account.InvitationStatus,
		})
	}
}

func getAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := models.GetAwsAccountByAccountId(c.Request.Context(), c.Param("account_id"))
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, account)
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Fail fast: missing bucket settings or credentials are a construction
	// error, never retried.
	billingCfg, err := config.LoadBillingConfig()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "billing config"}).Fatal(err.Error())
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on database readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))
	r.Use(gin.Recovery())

	r.GET("/api/accounts/:account_id", getAccountHandler())
	r.GET("/api/invoices/sync", invoiceSyncHandler(billingCfg))
	r.GET("/api/cost-management/sync", costSyncHandler(billingCfg))
	r.GET("/api/cost-management/alerts", costAlertsHandler(billingCfg))
	r.GET("/api/cost-management/report", reportExportHandler(billingCfg))
	r.POST("/api/accounts/:account_id/invite", inviteHandler(billingCfg))
	r.GET("/api/accounts/:account_id/invitation", invitationStatusHandler(billingCfg))
	r.GET("/api/invitations/pending", pendingInvitationsHandler(billingCfg))

	// Start listening immediately; connect dependencies after the port is
	// open.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}
