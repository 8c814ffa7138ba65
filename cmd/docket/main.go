// Command docket runs and operates the document-ingestion coordinator.
//
//	docket serve --config docket.yaml
//	docket submit --file scan.pdf --hospital st-mary
//	docket status job_01h455vb4pex5vsknk084sn02q
//	docket migrate --legacy
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
