package api_test

import (
	"fmt"
	"log"

	"github.com/whit3rabbit/unluraph/pkg/api"
)

// Example demonstrates basic programmatic deobfuscation of a protected
// snippet.
func Example() {
	d, err := api.NewDeobfuscator(api.Options{Silent: true})
	if err != nil {
		log.Fatalf("failed to create deobfuscator: %v", err)
	}

	protected := "local function handler_1(...)\n  R[0] = R[1]\nend\n"
	result, err := d.DeobfuscateCode(protected)
	if err != nil {
		log.Fatalf("failed to deobfuscate: %v", err)
	}

	fmt.Println(result.Stats.HandlersProcessed)
	// Output: 1
}
