// Command seed loads a sample document with two ordered signers for local
// development.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"docsign/backend/internal/auth"
	"docsign/backend/internal/config"
	"docsign/backend/internal/logging"
	"docsign/backend/internal/repository"
	"docsign/backend/internal/storage"
	"docsign/backend/pkg/models"
)

const seedDocumentName = "Mutual NDA (seed)"

type options struct {
	configPath string
	ownerEmail string
	signers    []string
}

func main() {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Seed an owner and a prepared two-signer document",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to config.yaml")
	cmd.Flags().StringVar(&opts.ownerEmail, "owner", auth.DevOwnerEmail, "Owner email")
	cmd.Flags().StringSliceVar(&opts.signers, "signers", []string{"alice@example.com", "bob@example.com"}, "Signer emails in signing order")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(os.Stdout, cfg.IsDev())

	if len(opts.signers) != 2 {
		return errors.New("exactly two signers are required")
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	blobs, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	// 1. Ensure Owner Exists
	owner, err := store.GetOwnerByEmail(ctx, opts.ownerEmail)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Info("Creating owner", "email", opts.ownerEmail)
		owner = &models.Owner{Email: opts.ownerEmail, Name: "Seed Owner"}
		if err := store.CreateOwner(ctx, owner); err != nil {
			return fmt.Errorf("failed to create owner: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to look up owner: %w", err)
	} else {
		logger.Info("Found existing owner", "id", owner.ID)
	}

	// 2. Upload the source PDF
	sourcePath := fmt.Sprintf("%s/%s.pdf", owner.ID, uuid.NewString())
	pdf, err := samplePDF()
	if err != nil {
		return err
	}
	if err := blobs.Upload(ctx, sourcePath, pdf, storage.ContentType(sourcePath)); err != nil {
		return fmt.Errorf("failed to upload sample PDF: %w", err)
	}

	// 3. Create and prepare the document
	doc := &models.Document{Name: seedDocumentName, SourcePath: sourcePath, OwnerID: owner.ID}
	if err := store.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	first, second := opts.signers[0], opts.signers[1]
	prep := repository.Preparation{
		DocumentID: doc.ID,
		Signers: []models.Signer{
			{ID: uuid.NewString(), DocumentID: doc.ID, Email: first, Order: 1},
			{ID: uuid.NewString(), DocumentID: doc.ID, Email: second, Order: 2},
		},
		Fields: []models.Field{
			{ID: uuid.NewString(), DocumentID: doc.ID, Type: models.FieldTypeSignature, PageNumber: 1,
				X: 72, Y: 620, Width: 180, Height: 40, Required: true, AssignedSignerEmail: &first},
			{ID: uuid.NewString(), DocumentID: doc.ID, Type: models.FieldTypeSignature, PageNumber: 1,
				X: 320, Y: 620, Width: 180, Height: 40, Required: true, AssignedSignerEmail: &second},
		},
	}
	err = store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.ReplacePreparation(ctx, prep); err != nil {
			return err
		}
		_, err := tx.UpdateDocumentStatus(ctx, doc.ID, models.DocumentStatusReadyToSend, models.DocumentStatusDraft)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to prepare document: %w", err)
	}

	logger.Info("Seeding complete!", "document_id", doc.ID, "source_path", sourcePath)
	fmt.Printf("Send it with: POST /api/v1/documents/%s/send\n", doc.ID)
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Driver {
	case "s3":
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			PathStyle:       cfg.Storage.PathStyle,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretKey,
		})
	case "fs":
		return storage.NewFSStore(cfg.Storage.Root, cfg.Server.BaseURL, []byte(cfg.Signing.TokenKey)), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// samplePDF renders a one-page US Letter agreement with two signature lines.
func samplePDF() ([]byte, error) {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 30, "Mutual Non-Disclosure Agreement")
	pdf.Ln(40)
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 16, "The parties agree to keep confidential all information exchanged "+
		"in connection with their discussions and to use it only for evaluating a possible business relationship.", "", "L", false)

	pdf.Line(72, 660, 252, 660)
	pdf.Line(320, 660, 500, 660)
	pdf.Text(72, 676, "Party 1")
	pdf.Text(320, 676, "Party 2")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render sample PDF: %w", err)
	}
	return buf.Bytes(), nil
}
