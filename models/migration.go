package models

import (
	"log"

	"github.com/edgeaimedia/carousel_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Generation{}, &Slide{},
		&TaskRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
