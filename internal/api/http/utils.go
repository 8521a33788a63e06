package http

import (
	"fmt"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/notebook/internal/domain/persistence"
)

func contentType(f persistence.Format) string {
	switch f {
	case persistence.FormatYAML:
		return "application/yaml"
	case persistence.FormatTOML:
		return "application/toml"
	}
	return "application/json"
}

// readLimited reads the request body, refusing anything over max bytes
func readLimited(c *gin.Context, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("request body exceeds %d bytes", max)
	}
	return data, nil
}
