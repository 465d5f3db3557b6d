package main

import (
	"go.uber.org/fx"

	"github.com/RiiPPeR/chiclana-records-back/internal/collection"
	"github.com/RiiPPeR/chiclana-records-back/internal/config"
	"github.com/RiiPPeR/chiclana-records-back/internal/db"
	"github.com/RiiPPeR/chiclana-records-back/internal/discogs"
	"github.com/RiiPPeR/chiclana-records-back/internal/logging"
	"github.com/RiiPPeR/chiclana-records-back/internal/service"
	"github.com/RiiPPeR/chiclana-records-back/internal/transport"
)

func main() {
	app := fx.New(
		config.Module,
		logging.Module,
		db.Module,
		collection.Module,
		service.Module,
		discogs.Module,
		transport.Module,
		fx.Invoke(func(*transport.HTTPServer) {}),
		fx.Invoke(func(*collection.Reconciler) {}),
	)

	app.Run()
}
