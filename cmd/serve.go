/*
Copyright © 2024 Dean
*/
package cmd

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	httpHdlr "docchat/handler/http"
	"docchat/src/core/docchat"
	"docchat/src/fsutil"
	"docchat/src/infrastructure/integrations/ollama"
	jobctrl "docchat/src/infrastructure/job"
	"docchat/src/infrastructure/log"
	"docchat/src/storage/minioctrl"
	"docchat/src/storage/postgres/sessionctrl"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the document chat server",
	Long: `The serve command starts the HTTP API together with the in-process
worker that builds session indexes in the background.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	settingDefaultConfig()
}

func runServer(cmd *cobra.Command, args []string) error {
	// Initialize PostgreSQL connection
	host := viper.GetString("postgres.host")
	user := viper.GetString("postgres.user")
	password := viper.GetString("postgres.password")
	dbname := viper.GetString("postgres.db")
	port := viper.GetString("postgres.port")

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		host, user, password, dbname, port)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %v", err)
	}
	defer sqlDB.Close()

	// Initialize MinIO backed object store
	minioService, err := minioctrl.NewMinioService(
		viper.GetString("minio.endpoint"),
		viper.GetString("minio.access_key"),
		viper.GetString("minio.secret_key"),
		viper.GetString("minio.bucket"),
		viper.GetBool("minio.use_ssl"),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize minio service: %v", err)
	}
	if err := minioService.EnsureBucketExists(context.Background()); err != nil {
		return err
	}

	// Initialize session repository
	node, err := snowflake.NewNode(1)
	if err != nil {
		return fmt.Errorf("failed to create snowflake node: %v", err)
	}
	sessionRepo, err := sessionctrl.NewSessionRepository(db, node)
	if err != nil {
		return err
	}

	// Initialize Ollama client
	ollamaClient := ollama.NewClient(viper.GetString("ollama.url"), &nethttp.Client{})

	// Initialize in-process pub/sub and job plumbing
	wmLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
	defer pubSub.Close()

	jobRepo, err := jobctrl.NewPostgresJobRepository(db)
	if err != nil {
		return fmt.Errorf("failed to initialize job repository: %v", err)
	}

	// Initialize the pipeline service. The job service needs the pipeline
	// as its builder and the pipeline needs the job service as its queue,
	// so the queue is attached after construction.
	fs := fsutil.NewLocalFileStore()
	service := docchat.NewService(
		sessionRepo,
		minioService,
		ollamaClient,
		nil,
		fs,
		viper.GetString("rag.data_root"),
		pipelineConfig(),
	)

	jobService := jobctrl.NewJobService(pubSub, jobRepo, wmLogger, service)
	service.SetQueue(jobService)

	// Initialize router for job processing
	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return err
	}
	router.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: time.Second,
			Logger:          wmLogger,
		}.Middleware,
	)
	router.AddNoPublisherHandler(
		"job_processor",
		"jobs",
		pubSub,
		func(msg *message.Message) error {
			return jobService.ProcessJobMessage(msg)
		},
	)

	routerCtx, cancelRouter := context.WithCancel(context.Background())
	defer cancelRouter()
	go func() {
		if err := router.Run(routerCtx); err != nil {
			log.Error(err, "Job router stopped")
		}
	}()

	// Republish index builds that were interrupted by the last shutdown
	<-router.Running()
	if err := jobService.RepublishPending(context.Background()); err != nil {
		log.Error(err, "Failed to republish pending jobs")
	}

	// Setup gin router
	handler := httpHdlr.NewHandler(service)
	r := gin.Default()
	handler.RegisterRoutes(r)

	srv := &nethttp.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
			log.Error(err, "Failed to start server")
		}
	}()
	log.Info("Server started", "port", viper.GetString("server.port"))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	timeout, err := time.ParseDuration(viper.GetString("server.shutdown_timeout"))
	if err != nil {
		log.Error(err, "Invalid shutdown timeout, using default 5s")
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	if err := router.Close(); err != nil {
		log.Error(err, "Failed to close job router")
	}

	log.Info("Server exited")
	return nil
}
