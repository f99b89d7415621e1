package auth

import (
	"fmt"
	"strings"
)

// ShowTokenGuide prints how to obtain and store a metadata API token
func ShowTokenGuide() {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("METADATA API TOKEN")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println()
	fmt.Println("The lookup commands call the item metadata API, which needs a token.")
	fmt.Println()
	fmt.Println("STEP 1: Sign in to the API provider's developer console")
	fmt.Println("   - Create an application key if you have none")
	fmt.Println("   - Copy the token value")
	fmt.Println()
	fmt.Println("STEP 2: Store it")
	fmt.Println("   marketcrawl auth set")
	fmt.Println("   The token goes to the system keychain, or to an encrypted file")
	fmt.Println("   when no keychain is available.")
	fmt.Println()
	fmt.Println("Alternatives:")
	fmt.Println("   export MARKETCRAWL_API_TOKEN=<token>")
	fmt.Println("   or set lookup.api_token in the config file")
	fmt.Println()
	fmt.Println("Check with: marketcrawl auth show")
	fmt.Println(strings.Repeat("=", 72))
}
