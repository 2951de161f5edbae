package server

import (
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
)

// NewFiber creates the fiber app. bodyLimit is in bytes; zero keeps fiber's default.
func NewFiber(bodyLimit int) *fiber.App {
	app := fiber.New(
		fiber.Config{
			AppName:               "Image Annotator",
			BodyLimit:             bodyLimit,
			DisableKeepalive:      false,
			StrictRouting:         true,
			CaseSensitive:         true,
			DisableStartupMessage: true,
			JSONEncoder:           jsoniter.Marshal,
			JSONDecoder:           jsoniter.Unmarshal,
		})

	return app
}
