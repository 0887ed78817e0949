package irregular_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestIrregular(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Irregular Suite")
}
