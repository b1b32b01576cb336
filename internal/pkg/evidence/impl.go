package evidence

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/arena/internal/pkg/common"
)

const indexFile = "index.json"

type EvidenceService struct {
	Dir string
}

func NewEvidenceService(i do.Injector) (*EvidenceService, error) {
	result := &EvidenceService{
		Dir: do.MustInvokeNamed[string](i, "evidence-dir"),
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.Routes)

	return result, nil
}

func (s *EvidenceService) Routes(e *echo.Echo) {
	evidenceGroup := e.Group("/api/evidence")

	evidenceGroup.POST("", s.Upload)
	evidenceGroup.GET("/:id", s.GetIndex)
}

func saveFile(file *multipart.FileHeader, dstPath string) error {
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open uploaded file: %w", err)
	}

	defer func() {
		_ = src.Close()
	}()

	//nolint:gosec
	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	defer func() {
		_ = dst.Close()
	}()

	_, err = io.Copy(dst, src)
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// Store writes the files of one upload and its index.
func (s *EvidenceService) Store(actor string, files []*multipart.FileHeader) (*UploadIndex, error) {
	if len(files) == 0 {
		return nil, common.Errorf(common.KindInvalidArgument, "no files uploaded")
	}

	_uploadID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate UUID: %w", err)
	}

	uploadID := _uploadID.String()
	uploadDir := filepath.Join(s.Dir, uploadID)

	err = os.MkdirAll(uploadDir, 0700)
	if err != nil {
		return nil, common.Unavailable(err, "failed to create upload directory")
	}

	index := &UploadIndex{
		UploadID:   uploadID,
		UploadedBy: actor,
		Timestamp:  time.Now().UTC(),
		Files:      make([]string, 0, len(files)),
	}

	for _, file := range files {
		name := filepath.Base(file.Filename)
		if name == indexFile || name == "." || name == string(filepath.Separator) {
			return nil, common.Errorf(common.KindInvalidArgument, "invalid file name %q", file.Filename)
		}

		err = saveFile(file, filepath.Join(uploadDir, name))
		if err != nil {
			return nil, common.Unavailable(err, "failed to store %s", name)
		}

		index.Files = append(index.Files, name)
	}

	indexData, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal index: %w", err)
	}

	err = os.WriteFile(filepath.Join(uploadDir, indexFile), indexData, 0600)
	if err != nil {
		return nil, common.Unavailable(err, "failed to write index file")
	}

	return index, nil
}

func (s *EvidenceService) Index(uploadID string) (*UploadIndex, error) {
	_, err := uuid.Parse(uploadID)
	if err != nil {
		return nil, common.Errorf(common.KindNotFound, "evidence %q not found", uploadID)
	}

	//nolint:gosec
	data, err := os.ReadFile(filepath.Join(s.Dir, uploadID, indexFile))
	if os.IsNotExist(err) {
		return nil, common.Errorf(common.KindNotFound, "evidence %q not found", uploadID)
	}

	if err != nil {
		return nil, common.Unavailable(err, "failed to read evidence index")
	}

	var index UploadIndex

	err = json.Unmarshal(data, &index)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal evidence index: %w", err)
	}

	return &index, nil
}

func (s *EvidenceService) Upload(c echo.Context) error {
	actor, err := common.Actor(c)
	if err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return common.Errorf(common.KindInvalidArgument, "failed to parse multipart form")
	}

	index, err := s.Store(actor, form.File["files"])
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusCreated, index)
}

func (s *EvidenceService) GetIndex(c echo.Context) error {
	index, err := s.Index(c.Param("id"))
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, index)
}
