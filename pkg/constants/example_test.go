package constants_test

import (
	"fmt"

	"github.com/agentstation/adsync/pkg/constants"
)

// Example shows the filters built from the attribute constants.
func Example() {
	fmt.Printf("(%s=%s)\n", constants.DefaultKeyAttribute, "123")
	fmt.Printf("(&(%s=%s)(%s=%s))\n", constants.AttrGivenName, "Jane", constants.AttrSurname, "Doe")
	// Output:
	// (employeeID=123)
	// (&(givenName=Jane)(sn=Doe))
}
