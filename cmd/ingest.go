package cmd

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"path/filepath"

	"github.com/bwmarrin/snowflake"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"docchat/src/core/docchat"
	"docchat/src/fsutil"
	"docchat/src/infrastructure/integrations/ollama"
	"docchat/src/storage/minioctrl"
	"docchat/src/storage/postgres/sessionctrl"
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest a document from the command line",
	Long: `The ingest command uploads a local document, builds its index in the
foreground with a progress bar and prints the resulting session ID.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	settingDefaultConfig()
}

// captureQueue defers the index build so the command can run it in the
// foreground with progress reporting.
type captureQueue struct {
	sessionID string
}

func (q *captureQueue) Enqueue(ctx context.Context, taskType string, payload interface{}) error {
	fields, ok := payload.(map[string]string)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", payload)
	}
	q.sessionID = fields["session_id"]
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %v", path, err)
	}

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

	ctx := context.Background()
	if err := minioService.EnsureBucketExists(ctx); err != nil {
		return err
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return fmt.Errorf("failed to create snowflake node: %v", err)
	}
	sessionRepo, err := sessionctrl.NewSessionRepository(db, node)
	if err != nil {
		return err
	}

	ollamaClient := ollama.NewClient(viper.GetString("ollama.url"), &nethttp.Client{})

	queue := &captureQueue{}
	service := docchat.NewService(
		sessionRepo,
		minioService,
		ollamaClient,
		queue,
		fsutil.NewLocalFileStore(),
		viper.GetString("rag.data_root"),
		pipelineConfig(),
	)

	session, err := service.Ingest(ctx, filepath.Base(path), data)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	err = service.BuildSessionIndexWithProgress(ctx, queue.sessionID, func(done, total int) {
		if bar == nil {
			bar = progressbar.Default(int64(total), "embedding chunks")
		}
		bar.Set(done)
	})
	if err != nil {
		return err
	}

	session, err = service.GetSession(ctx, session.ID)
	if err != nil {
		return err
	}

	fmt.Printf("\nsession %s ready with %d chunks\n", session.ID, session.ChunkCount)
	return nil
}
