package topt_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestTopt(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Topt Suite")
}
