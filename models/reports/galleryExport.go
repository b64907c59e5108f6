package reports

import (
	"context"
	"fmt"
	"io"

	"github.com/edgeaimedia/carousel_backend/config"
	"github.com/xuri/excelize/v2"
)

type galleryExportRow struct {
	GenerationId string `json:"generation_id"`
	ArtStyle     string `json:"art_style"`
	OutputType   string `json:"output_type"`
	Status       string `json:"status"`
	SlideCount   int    `json:"slide_count"`
	SlidesStored int64  `json:"slides_stored"`
	VideoUrl     string `json:"video_url"`
	CreatedAt    string `json:"created_at"`
}

func getGalleryExportRows(ctx context.Context) ([]*galleryExportRow, error) {

	sql := `
SELECT
    g.generation_id,
    g.art_style,
    g.output_type,
    g.status,
    g.slide_count,
    COUNT(s.id) AS slides_stored,
    g.video_url,
    DATE_FORMAT(g.created_at, '%Y-%m-%d %H:%i:%s') AS created_at
FROM
    generations g
    LEFT JOIN slides s ON s.generation_id = g.generation_id
GROUP BY
    g.id
ORDER BY
    g.created_at DESC;
`

	var records []*galleryExportRow
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql).Scan(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

// WriteGalleryWorkbook streams an Excel workbook of all generations.
func WriteGalleryWorkbook(ctx context.Context, w io.Writer) error {

	f := excelize.NewFile()
	_, err := f.NewSheet("Sheet1")
	if err != nil {
		return err
	}
	data, err := getGalleryExportRows(ctx)
	if err != nil {
		return err
	}

	// Add headers
	f.SetCellValue("Sheet1", "A1", "GenerationId")
	f.SetCellValue("Sheet1", "B1", "ArtStyle")
	f.SetCellValue("Sheet1", "C1", "OutputType")
	f.SetCellValue("Sheet1", "D1", "Status")
	f.SetCellValue("Sheet1", "E1", "SlideCount")
	f.SetCellValue("Sheet1", "F1", "SlidesStored")
	f.SetCellValue("Sheet1", "G1", "VideoUrl")
	f.SetCellValue("Sheet1", "H1", "CreatedAt")

	// Add data
	for i, d := range data {
		f.SetCellValue("Sheet1", "A"+fmt.Sprint(i+2), d.GenerationId)
		f.SetCellValue("Sheet1", "B"+fmt.Sprint(i+2), d.ArtStyle)
		f.SetCellValue("Sheet1", "C"+fmt.Sprint(i+2), d.OutputType)
		f.SetCellValue("Sheet1", "D"+fmt.Sprint(i+2), d.Status)
		f.SetCellValue("Sheet1", "E"+fmt.Sprint(i+2), d.SlideCount)
		f.SetCellValue("Sheet1", "F"+fmt.Sprint(i+2), d.SlidesStored)
		f.SetCellValue("Sheet1", "G"+fmt.Sprint(i+2), d.VideoUrl)
		f.SetCellValue("Sheet1", "H"+fmt.Sprint(i+2), d.CreatedAt)
	}

	return f.Write(w)
}
