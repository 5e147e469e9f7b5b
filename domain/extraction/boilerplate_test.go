package extraction

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/factweave/factweave/pkg/cleaner"
)

const footerBlock = "© Example GmbH · All rights reserved · [Imprint](/impressum) · [Privacy](/privacy)"

func TestFlagRepeatedBlocksAboveThreshold(t *testing.T) {
	pages := []string{
		"# Pumps\n\nCentrifugal pumps for chemical process plants.\n\n" + footerBlock,
		"# Valves\n\nControl valves rated for high pressure steam lines.\n\n" + footerBlock,
		"# About\n\nFamily owned since 1952, headquartered in Hamburg.\n\n" + footerBlock,
		"# Contact\n\nReach our sales team through the regional offices.\n\n" + footerBlock,
		"# News\n\nTrade fair schedule for the upcoming season is out now.",
	}

	hashes := flagRepeatedBlocks(pages, 20, 0.7)

	assert.Equal(t, []string{cleaner.BlockHash(footerBlock)}, hashes,
		"footer on 4 of 5 pages is flagged, unique body blocks are not")
}

func TestFlagRepeatedBlocksBelowThreshold(t *testing.T) {
	pages := make([]string, 5)
	for i := range pages {
		pages[i] = fmt.Sprintf("Unique body text for page number %d with enough length to count.", i)
	}
	for i := 0; i < 3; i++ {
		pages[i] += "\n\n" + footerBlock
	}

	hashes := flagRepeatedBlocks(pages, 20, 0.7)

	assert.Empty(t, hashes, "3 of 5 pages is under the 0.7 threshold")
}

func TestFlagRepeatedBlocksCountsOncePerPage(t *testing.T) {
	// The footer sits twice on the first page. That still counts as one
	// page out of three, which stays under the threshold.
	pages := []string{
		footerBlock + "\n\n" + footerBlock,
		"Product catalog with downloadable datasheets and CAD models.",
		"Directions to the factory and visitor parking information.",
	}

	hashes := flagRepeatedBlocks(pages, 20, 0.6)

	assert.Empty(t, hashes)
}

func TestFlagRepeatedBlocksIgnoresShortBlocks(t *testing.T) {
	pages := []string{"Home", "Home", "Home"}

	hashes := flagRepeatedBlocks(pages, 20, 0.5)

	assert.Empty(t, hashes)
}

func TestFlagRepeatedBlocksNormalizesWhitespace(t *testing.T) {
	pages := []string{
		"© Example GmbH · All rights reserved",
		"©   Example GmbH ·  All  rights reserved",
	}

	hashes := flagRepeatedBlocks(pages, 20, 1.0)

	assert.Len(t, hashes, 1, "whitespace variants hash to the same block")
}
